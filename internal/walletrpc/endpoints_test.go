package walletrpc

import (
	"os"
	"testing"

	"github.com/satisfyguy/escrowd/internal/cryptoutil"
	"github.com/satisfyguy/escrowd/internal/store"
)

func testEndpointsKey() cryptoutil.MasterKey {
	var k cryptoutil.MasterKey
	for i := range k {
		k[i] = byte(i + 7)
	}
	return k
}

func newTestStoreForEndpoints(t *testing.T) *store.Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "escrowd-walletrpc-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := store.New(&store.Config{DataDir: tmpDir}, testEndpointsKey())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClientForCachesAndSplitsCredentials(t *testing.T) {
	s := newTestStoreForEndpoints(t)
	key := testEndpointsKey()

	sealedURL, err := cryptoutil.Seal(key, []byte("http://127.0.0.1:18083/json_rpc"))
	if err != nil {
		t.Fatalf("Seal url: %v", err)
	}
	sealedCreds, err := cryptoutil.Seal(key, []byte("alice:s3cret"))
	if err != nil {
		t.Fatalf("Seal creds: %v", err)
	}
	if err := s.RegisterEndpoint("escrow-1", store.RoleBuyer, sealedURL, sealedCreds); err != nil {
		t.Fatalf("RegisterEndpoint: %v", err)
	}

	e := NewStoreEndpoints(s)
	c1, err := e.ClientFor("escrow-1", store.RoleBuyer)
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if c1.endpointURL != "http://127.0.0.1:18083/json_rpc" {
		t.Errorf("endpointURL = %q, want http://127.0.0.1:18083/json_rpc", c1.endpointURL)
	}
	if c1.username != "alice" || c1.password != "s3cret" {
		t.Errorf("username/password = %q/%q, want alice/s3cret", c1.username, c1.password)
	}

	c2, err := e.ClientFor("escrow-1", store.RoleBuyer)
	if err != nil {
		t.Fatalf("ClientFor (cached): %v", err)
	}
	if c1 != c2 {
		t.Error("expected ClientFor to return the same cached client on second call")
	}
}

func TestClientForMissingEndpointReturnsNotFound(t *testing.T) {
	s := newTestStoreForEndpoints(t)
	e := NewStoreEndpoints(s)

	if _, err := e.ClientFor("escrow-missing", store.RoleArbiter); err == nil {
		t.Fatal("expected an error for an unregistered endpoint")
	}
}
