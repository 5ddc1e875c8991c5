package model

// NodeType declares what role a joining node wants to play in the cluster.
type NodeType string

const (
	NodeTypeController NodeType = "controller"
	NodeTypeStorage    NodeType = "storage"
	NodeTypeQuery      NodeType = "query"
)

// ClusterSettings is the configuration bundle every joining node must
// match. Controllers validate all fields, storage and query nodes only
// the connection string.
type ClusterSettings struct {
	ConnectionString          string `json:"connection_string"`
	MaxChunkItemCount         int    `json:"max_chunk_item_count"`
	MaxChunkSize              int64  `json:"max_chunk_size"`
	RedundantNodesPerLocation int    `json:"redundant_nodes_per_location"`
}

// MessageKind discriminates the payload carried by a Message.
type MessageKind string

const (
	KindJoinAttempt MessageKind = "join_attempt"
	KindJoinSuccess MessageKind = "join_success"
	KindJoinFailure MessageKind = "join_failure"
)

// JoinAttempt asks a peer to admit the sender into the cluster.
type JoinAttempt struct {
	NodeType NodeType        `json:"node_type"`
	Name     string          `json:"name"`
	Port     int             `json:"port"`
	Settings ClusterSettings `json:"settings"`
}

// JoinSuccess admits the sender and tells it whether the responder is
// the cluster primary.
type JoinSuccess struct {
	IsPrimary bool `json:"is_primary"`
}

// JoinFailure rejects a join attempt with a human-readable reason.
type JoinFailure struct {
	Reason string `json:"reason"`
}

// Message is the typed envelope carried by the exchange. Exactly one
// payload field is set, selected by Kind.
type Message struct {
	Kind        MessageKind  `json:"kind"`
	JoinAttempt *JoinAttempt `json:"join_attempt,omitempty"`
	JoinSuccess *JoinSuccess `json:"join_success,omitempty"`
	JoinFailure *JoinFailure `json:"join_failure,omitempty"`
}

// NewJoinAttempt wraps a JoinAttempt payload in a message envelope.
func NewJoinAttempt(att JoinAttempt) Message {
	return Message{Kind: KindJoinAttempt, JoinAttempt: &att}
}

// NewJoinSuccess wraps a JoinSuccess payload in a message envelope.
func NewJoinSuccess(isPrimary bool) Message {
	return Message{Kind: KindJoinSuccess, JoinSuccess: &JoinSuccess{IsPrimary: isPrimary}}
}

// NewJoinFailure wraps a JoinFailure payload in a message envelope.
func NewJoinFailure(reason string) Message {
	return Message{Kind: KindJoinFailure, JoinFailure: &JoinFailure{Reason: reason}}
}
