package schemas

// -- Control Protocol --
// Requests travel from the UI/background side to the injection core. Each
// request carries an optional client-chosen ID that is echoed in the reply.

// Action names a control request kind.
type Action string

const (
	ActionGetProfile        Action = "getProfile"
	ActionRegenerateProfile Action = "regenerateProfile"
	ActionGetStatus         Action = "getStatus"
)

// Request is a single control message.
type Request struct {
	ID     string `json:"id,omitempty"`
	Action Action `json:"action"`
}

// Response is the union of every reply shape. Only the fields relevant to
// the request kind are populated.
type Response struct {
	ID          string   `json:"id,omitempty"`
	Profile     *Profile `json:"profile,omitempty"`
	Success     *bool    `json:"success,omitempty"`
	Initialized *bool    `json:"initialized,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// ProfileResponse answers ActionGetProfile.
func ProfileResponse(p *Profile) Response {
	return Response{Profile: p}
}

// AckResponse answers ActionRegenerateProfile.
func AckResponse() Response {
	ok := true
	return Response{Success: &ok}
}

// StatusResponse answers ActionGetStatus.
func StatusResponse(initialized bool) Response {
	return Response{Initialized: &initialized}
}

// ErrorResponse reports a failed request.
func ErrorResponse(msg string) Response {
	return Response{Error: msg}
}

// -- Page Events --
// Broadcast events exchanged inside the page environment.

const (
	// EventReady fires once, after the first full interceptor pass. Detail: ReadyDetail.
	EventReady = "chameleon-ready"
	// EventRegenerate requests a new profile. No detail.
	EventRegenerate = "chameleon-regenerate"
	// EventGetProfile asks the core to publish the current profile. No detail.
	EventGetProfile = "chameleon-get-profile"
	// EventProfileData carries the current profile. Detail: *Profile.
	EventProfileData = "chameleon-profile-data"
	// EventProfileRegenerated fires after every profile swap, before the interceptor pass. Detail: *Profile.
	EventProfileRegenerated = "chameleon-profile-regenerated"
)

// ReadyDetail is the payload of EventReady.
type ReadyDetail struct {
	Profile *Profile `json:"profile"`
}

// -- Page Markers --

const (
	// MarkerPrefix prefixes every property the core leaves on page globals.
	MarkerPrefix = "__chameleon"
	// InjectedMarker guards against running the bootstrap twice on one page.
	InjectedMarker = "__chameleon_injected"
	// InitializedMarker is set once the orchestration reached Ready.
	InitializedMarker = "__chameleon_initialized"
	// BootstrapBinding is the host function the bootstrap payload calls.
	BootstrapBinding = "__chameleon_bootstrap"
	// CodeMarker appears in the source name of every injected script; stack
	// frames carrying it are removed by the self-defense guard.
	CodeMarker = "chameleon"
)
