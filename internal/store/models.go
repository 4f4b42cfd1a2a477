package store

// Strip is a configured LED strip. Only the address and display name are
// persisted; light state is rebuilt from the first poll.
type Strip struct {
	Host string `json:"host"`
	Name string `json:"name"`
}
