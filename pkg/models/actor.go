package models

// Actor identifies who performed a verification action. It is passed
// explicitly into every workflow call and copied onto the audit trail.
type Actor struct {
	ActorID   string `json:"actor_id"`
	SessionID string `json:"session_id,omitempty"`
	SourceIP  string `json:"source_ip,omitempty"`
}

// SystemActor is used for transitions made by the matching pipeline itself.
var SystemActor = Actor{ActorID: "system"}

func (a Actor) OrSystem() Actor {
	if a.ActorID == "" {
		return SystemActor
	}
	return a
}
