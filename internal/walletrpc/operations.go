package walletrpc

import "context"

// VersionInfo is the response shape of the wallet daemon's version probe.
type VersionInfo struct {
	Version uint64 `json:"version"`
}

// GetVersion confirms the daemon is reachable and reports its RPC version.
func (c *Client) GetVersion(ctx context.Context) (*VersionInfo, error) {
	var out VersionInfo
	if err := c.callWithRetry(ctx, "get_version", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance is the response shape of a balance query.
type Balance struct {
	Balance         uint64 `json:"balance"`
	UnlockedBalance uint64 `json:"unlocked_balance"`
}

// GetBalance returns the wallet's total and spendable balance in atomic units.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var out Balance
	if err := c.callWithRetry(ctx, "get_balance", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Address is the response shape of an address query.
type Address struct {
	Address string `json:"address"`
}

// GetAddress returns the wallet's primary address.
func (c *Client) GetAddress(ctx context.Context) (*Address, error) {
	var out Address
	if err := c.callWithRetry(ctx, "get_address", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PrepareMultisigResult carries the multisig info string a participant
// shares with the other two parties.
type PrepareMultisigResult struct {
	MultisigInfo string `json:"multisig_info"`
}

// PrepareMultisig begins multisig wallet setup. Idempotent: calling it
// again before MakeMultisig returns equivalent info.
func (c *Client) PrepareMultisig(ctx context.Context) (*PrepareMultisigResult, error) {
	var out PrepareMultisigResult
	if err := c.callWithRetry(ctx, "prepare_multisig", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type makeMultisigParams struct {
	MultisigInfo []string `json:"multisig_info"`
	Threshold    int      `json:"threshold"`
}

// MakeMultisigResult carries this round's output: either a further
// exchange string (round 1 of 2-of-3) or the final wallet address.
type MakeMultisigResult struct {
	Address      string `json:"address"`
	MultisigInfo string `json:"multisig_info"`
}

// MakeMultisig consumes the other participants' prepare-info strings and
// advances this wallet toward a completed multisig setup.
func (c *Client) MakeMultisig(ctx context.Context, otherInfos []string, threshold int) (*MakeMultisigResult, error) {
	var out MakeMultisigResult
	params := makeMultisigParams{MultisigInfo: otherInfos, Threshold: threshold}
	if err := c.callWithRetry(ctx, "make_multisig", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type exchangeMultisigKeysParams struct {
	MultisigInfo []string `json:"multisig_info"`
}

// ExchangeMultisigResult mirrors MakeMultisigResult's shape for the
// additional exchange round required by 2-of-3 setups.
type ExchangeMultisigResult struct {
	Address      string `json:"address"`
	MultisigInfo string `json:"multisig_info"`
}

// ExchangeMultisigKeys performs the second (final, for 2-of-3) key
// exchange round, yielding the agreed-upon multisig address once all
// three participants have exchanged.
func (c *Client) ExchangeMultisigKeys(ctx context.Context, otherInfos []string) (*ExchangeMultisigResult, error) {
	var out ExchangeMultisigResult
	params := exchangeMultisigKeysParams{MultisigInfo: otherInfos}
	if err := c.callWithRetry(ctx, "exchange_multisig_keys", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportMultisigInfoResult carries this wallet's multisig key image
// export, required by the other signer before it can produce a valid
// partial signature.
type ExportMultisigInfoResult struct {
	Info string `json:"info"`
}

// ExportMultisigInfo exports this wallet's multisig key-image state.
func (c *Client) ExportMultisigInfo(ctx context.Context) (*ExportMultisigInfoResult, error) {
	var out ExportMultisigInfoResult
	if err := c.callWithRetry(ctx, "export_multisig_info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type importMultisigInfoParams struct {
	Info []string `json:"info"`
}

// ImportMultisigInfoResult reports how many outputs became spendable.
type ImportMultisigInfoResult struct {
	NOutputs int `json:"n_outputs"`
}

// ImportMultisigInfo imports key-image exports from the other signer(s).
func (c *Client) ImportMultisigInfo(ctx context.Context, infos []string) (*ImportMultisigInfoResult, error) {
	var out ImportMultisigInfoResult
	params := importMultisigInfoParams{Info: infos}
	if err := c.callWithRetry(ctx, "import_multisig_info", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsMultisigResult reports the wallet's current multisig configuration.
type IsMultisigResult struct {
	Multisig  bool `json:"multisig"`
	Ready     bool `json:"ready"`
	Threshold int  `json:"threshold"`
	Total     int  `json:"total"`
}

// IsMultisig reports whether this wallet has completed multisig setup.
func (c *Client) IsMultisig(ctx context.Context) (*IsMultisigResult, error) {
	var out IsMultisigResult
	if err := c.callWithRetry(ctx, "is_multisig", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransferDestination is one (address, amount) pair in a transfer request.
type TransferDestination struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type transferParams struct {
	Destinations []TransferDestination `json:"destinations"`
}

// TransferMultisigResult carries the unsigned (partially-signed) transaction
// set produced by the first signer to call transfer.
type TransferMultisigResult struct {
	MultisigTxSet string   `json:"multisig_txset"`
	TxHashList    []string `json:"tx_hash_list"`
}

// TransferMultisig proposes a transfer from a completed multisig wallet,
// producing a tx set the second signer must sign.
func (c *Client) TransferMultisig(ctx context.Context, destinations []TransferDestination) (*TransferMultisigResult, error) {
	var out TransferMultisigResult
	params := transferParams{Destinations: destinations}
	if err := c.callWithRetry(ctx, "transfer", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type signMultisigParams struct {
	TxDataHex string `json:"tx_data_hex"`
}

// SignMultisigResult carries the tx set after this signer adds its
// signature, plus the resulting txids once threshold signatures are met.
type SignMultisigResult struct {
	TxDataHex  string   `json:"tx_data_hex"`
	TxHashList []string `json:"tx_hash_list"`
}

// SignMultisig adds this wallet's signature to a proposed multisig tx set.
func (c *Client) SignMultisig(ctx context.Context, txDataHex string) (*SignMultisigResult, error) {
	var out SignMultisigResult
	params := signMultisigParams{TxDataHex: txDataHex}
	if err := c.callWithRetry(ctx, "sign_multisig", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type submitMultisigParams struct {
	TxDataHex string `json:"tx_data_hex"`
}

// SubmitMultisigResult carries the broadcast transaction's hash list.
type SubmitMultisigResult struct {
	TxHashList []string `json:"tx_hash_list"`
}

// SubmitMultisig broadcasts a fully-signed multisig transaction set.
func (c *Client) SubmitMultisig(ctx context.Context, txDataHex string) (*SubmitMultisigResult, error) {
	var out SubmitMultisigResult
	params := submitMultisigParams{TxDataHex: txDataHex}
	if err := c.callWithRetry(ctx, "submit_multisig", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type getTransferByTxidParams struct {
	TxID string `json:"txid"`
}

// TransferRecord is the response shape of a confirmed-transfer lookup.
type TransferRecord struct {
	Transfer struct {
		TxID          string `json:"txid"`
		Confirmations uint64 `json:"confirmations"`
		Height        uint64 `json:"height"`
		Amount        uint64 `json:"amount"`
	} `json:"transfer"`
}

// GetTransferByTxid looks up confirmation depth for a known transaction.
func (c *Client) GetTransferByTxid(ctx context.Context, txid string) (*TransferRecord, error) {
	var out TransferRecord
	params := getTransferByTxidParams{TxID: txid}
	if err := c.callWithRetry(ctx, "get_transfer_by_txid", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
