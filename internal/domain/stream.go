package domain

// StreamedAlert is an alert read back from the alert stream along with the
// broker message id needed to acknowledge it.
type StreamedAlert struct {
	MessageID string
	Alert     Alert
}

// ConsumerGroupInfo describes one consumer group on the alert stream.
type ConsumerGroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
	Lag             int64  `json:"lag"`
}

// StreamStatus is the operator view of the alert stream.
type StreamStatus struct {
	Stream    string              `json:"stream"`
	Length    int64               `json:"length"`
	Available bool                `json:"available"`
	Groups    []ConsumerGroupInfo `json:"groups"`
}
