package rtc

import (
	"github.com/hi-zp/recording/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

func toSessionDescription(d *domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.Type),
		SDP:  d.SDP,
	}
}

func fromSessionDescription(d *webrtc.SessionDescription) *domain.SessionDescription {
	if d == nil {
		return nil
	}
	return &domain.SessionDescription{
		Type: d.Type.String(),
		SDP:  d.SDP,
	}
}

func toCandidateInit(c domain.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromCandidateInit(c webrtc.ICECandidateInit) domain.ICECandidate {
	return domain.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// ICEServersFromConfig converts configured ICE servers to pion's type.
func ICEServersFromConfig(servers []struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}
