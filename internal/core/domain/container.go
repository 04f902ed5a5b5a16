package domain

// Container represents a launched service instance (Docker, K8s, etc.)
type Container struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	Status    string `json:"status"`
	State     string `json:"state"` // running, exited, etc.
	Port      int    `json:"port"`
	IPAddress string `json:"ip_address,omitempty"`
}
