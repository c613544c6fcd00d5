package xpapimodel

// WebSocket message types of the X-Plane web API.
const (
	TypeSubscribe   = "dataref_subscribe_values"
	TypeUnsubscribe = "dataref_unsubscribe_values"
	TypeUpdate      = "dataref_update_values"
	TypeResult      = "result"
)

type APIResponseDatarefs struct {
	Data []DatarefInfo `json:"data"`
}

type APIResponseDatarefValue struct {
	Data any `json:"data"`
}

type DatarefInfo struct {
	ID         int    `json:"id"`
	IsWritable bool   `json:"is_writable"`
	Name       string `json:"name"`
	ValueType  string `json:"value_type"`
}

// Dataref is a subscribed dataref and its last decoded value.
type Dataref struct {
	Name            string
	APIInfo         DatarefInfo
	Value           any
	DecodedDataType string
}

type DatarefSubscriptionRequest struct {
	RequestID int64         `json:"req_id"`
	Type      string        `json:"type"`
	Params    ParamDatarefs `json:"params"`
}

type ParamDatarefs struct {
	Datarefs []SubDataref `json:"datarefs"`
}

type SubDataref struct {
	Id int `json:"id"`
}

// SubscriptionResponse covers both results and value updates.
type SubscriptionResponse struct {
	RequestID    int64          `json:"req_id"`
	Type         string         `json:"type"`
	Data         map[string]any `json:"data,omitempty"`
	Success      bool           `json:"success,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}
