package store

// The model set below mirrors original_source/entity/src/*.rs one struct
// per table, field-for-field, in the idiom channeldb uses for its own
// cached records (plain structs, explicit field tags only where a column
// name diverges from the Go field name). Field order and column set
// follow store/migrations/*/NNNN_*.up.sql exactly.

// NodeStatus mirrors entity::node::NodeStatus.
type NodeStatus int16

const (
	NodeStatusStopped NodeStatus = iota
	NodeStatusStarting
	NodeStatusRunning
	NodeStatusStopping
)

// NodeRole mirrors entity::node::NodeRole.
type NodeRole int16

const (
	NodeRoleDefault NodeRole = iota
	NodeRoleRoot
)

// Node is the persisted record for one hosted Lightning node identity.
type Node struct {
	ID         string
	Role       NodeRole
	Username   string
	Alias      string
	Network    string
	ListenAddr string
	ListenPort int32
	Status     NodeStatus
	CreatedAt  int64
	UpdatedAt  int64
}

// UserRole mirrors entity::user::Role, operators vs. normal credentials.
type UserRole int16

const (
	UserRoleUser UserRole = iota
	UserRoleAdmin
)

// User is an operator account authenticating to the Admin surface itself
// (distinct from a hosted Node's own credentials).
type User struct {
	ID             string
	Role           UserRole
	Username       string
	HashedPassword string
	CreatedAt      int64
	UpdatedAt      int64
}

// AccessToken is a bearer credential accepted by Admin's CreateNode
// operation, per SPEC_FULL.md §4.7. It is not bound to a Node: it
// authorizes the *creation* of one, consumed single-use on redemption.
type AccessToken struct {
	ID        string
	Token     string
	Name      string
	Scope     string
	SingleUse bool
	ExpiresAt int64
	CreatedAt int64
	UpdatedAt int64
}

// Macaroon is a capability token bound to a Node, minted by the Auth
// package's bakery and persisted encrypted-at-rest so it can be re-derived
// without re-prompting an operator for the node's wallet seed.
type Macaroon struct {
	ID                string
	NodeID            string
	EncryptedMacaroon []byte
	CreatedAt         int64
	UpdatedAt         int64
}

// PaymentStatus mirrors entity::payment::HTLCStatus.
type PaymentStatus int16

const (
	PaymentStatusPending PaymentStatus = iota
	PaymentStatusSucceeded
	PaymentStatusFailed
)

// PaymentOrigin distinguishes an inbound invoice settlement from an
// outbound payment this node originated.
type PaymentOrigin int16

const (
	PaymentOriginInbound PaymentOrigin = iota
	PaymentOriginOutbound
)

// Payment is one HTLC-level payment record, keyed by (NodeID, PaymentHash)
// so a hash can recur across different hosted nodes without collision.
// CreatedByNodeID/ReceivedByNodeID distinguish the originating vs.
// terminating hosted node for payments that loop back through this same
// process, mirroring entity::payment's pair of optional node references.
type Payment struct {
	ID               string
	NodeID           string
	PaymentHash      string
	Preimage         string
	Secret           string
	Status           PaymentStatus
	Origin           PaymentOrigin
	Label            string
	Invoice          string
	AmtMsat          *int64
	FeePaidMsat      *int64
	CreatedByNodeID  *string
	ReceivedByNodeID *string
	CreatedAt        int64
	UpdatedAt        int64
}

// Peer is a persisted connection intent for a Node: a pubkey it should
// maintain a link to, independent of the live peer manager's view.
type Peer struct {
	ID        string
	NodeID    string
	Pubkey    string
	Alias     string
	Label     string
	ZeroConf  bool
	CreatedAt int64
	UpdatedAt int64
}

// PeerAddressSource mirrors entity::peer_address::PeerAddressSource,
// ranking address discovery methods for the tie-breaking rule of
// SPEC_FULL.md §3/§8 property 8: a higher-priority source overwrites a
// lower one, and within the same source the most recent connection wins.
type PeerAddressSource int16

const (
	PeerAddressSourceGossip PeerAddressSource = iota
	PeerAddressSourceManual
	PeerAddressSourceInbound
)

// PeerAddress is the last known network address for (NodeID, Pubkey).
type PeerAddress struct {
	ID              string
	NodeID          string
	Pubkey          string
	Address         string
	Source          PeerAddressSource
	LastConnectedAt int64
	CreatedAt       int64
	UpdatedAt       int64
}

// ClusterNode is a pointer to another senseid instance's hosted node,
// used when this process is a cluster coordinator delegating RPCs to the
// instance that actually hosts a given pubkey (SPEC_FULL.md §3).
type ClusterNode struct {
	ID          string
	NodeID      string
	Host        string
	Port        int32
	MacaroonHex string
	Label       string
	Pubkey      string
	CreatedAt   int64
	UpdatedAt   int64
}

// Utxo is a wallet-owned unspent output, the relational analogue of
// lnwallet's internal utxo cache.
type Utxo struct {
	ID           string
	NodeID       string
	Txid         string
	Vout         int32
	ValueSat     int64
	ScriptPubkey string
	Keychain     string
	Child        int32
	IsSpent      bool
	CreatedAt    int64
	UpdatedAt    int64
}

// Keychain is one derivation path root the wallet derives ScriptPubkeys
// from, keyed per Node so each hosted wallet has an independent HD tree.
// DescriptorChecksum pins the exact output descriptor the path was
// derived from, so a reopened wallet can detect a mismatched seed before
// deriving addresses it cannot actually spend from.
type Keychain struct {
	ID                  string
	NodeID              string
	Name                string
	DescriptorChecksum  string
	LastDerivationIndex int32
	CreatedAt           int64
	UpdatedAt           int64
}

// ScriptPubkey is one derived output script the wallet watches for and
// can sign on behalf of.
type ScriptPubkey struct {
	ID        string
	NodeID    string
	Keychain  string
	Child     int32
	Script    string
	Address   string
	CreatedAt int64
	UpdatedAt int64
}

// Transaction is a wallet-relevant on-chain transaction, recorded for
// history independent of the Utxo set it produced or spent.
// ConfirmationHeight/ConfirmationTime are nil while the transaction sits
// unconfirmed in the mempool.
type Transaction struct {
	ID                 string
	NodeID             string
	Txid               string
	RawTx              []byte
	ConfirmationHeight *int64
	ConfirmationTime   *int64
	CreatedAt          int64
	UpdatedAt          int64
}

// KvEntry is one row of the generic per-node KV table the kv package
// layers its typed Persister API on top of.
type KvEntry struct {
	NodeID    string
	Key       string
	Value     []byte
	CreatedAt int64
	UpdatedAt int64
}
