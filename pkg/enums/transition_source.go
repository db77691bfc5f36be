package enums

// TransitionSource names the writer that asked for a subscription transition.
type TransitionSource string

const (
	TransitionSourceWebhook TransitionSource = "webhook"
	TransitionSourceVerify  TransitionSource = "verify"
	TransitionSourceCancel  TransitionSource = "cancel"
	TransitionSourceResync  TransitionSource = "resync"
)

var validTransitionSources = []TransitionSource{
	TransitionSourceWebhook,
	TransitionSourceVerify,
	TransitionSourceCancel,
	TransitionSourceResync,
}

func (s TransitionSource) String() string {
	return string(s)
}

func (s TransitionSource) IsValid() bool {
	for _, candidate := range validTransitionSources {
		if candidate == s {
			return true
		}
	}
	return false
}
