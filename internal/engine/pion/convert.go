package pion

import (
	"fmt"
	"strings"

	"voxsfu/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func toCodecCapability(c domain.RtpCodecCapability) webrtc.RTPCodecCapability {
	feedback := make([]webrtc.RTCPFeedback, 0, len(c.RtcpFeedback))
	for _, fb := range c.RtcpFeedback {
		feedback = append(feedback, webrtc.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
	}
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  domain.FormatFmtp(c.Parameters),
		RTCPFeedback: feedback,
	}
}

func toCodecParameters(c domain.RtpCodecCapability) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: toCodecCapability(c),
		PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
	}
}

func fromICEParameters(p webrtc.ICEParameters) domain.IceParameters {
	return domain.IceParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, IceLite: p.ICELite}
}

func toICEParameters(p domain.IceParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, ICELite: p.IceLite}
}

func fromICECandidate(c webrtc.ICECandidate) domain.IceCandidate {
	return domain.IceCandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		IP:         c.Address,
		Protocol:   c.Protocol.String(),
		Port:       c.Port,
		Type:       c.Typ.String(),
		TCPType:    c.TCPType,
	}
}

func toICECandidate(c domain.IceCandidate) (webrtc.ICECandidate, error) {
	protocol, err := webrtc.NewICEProtocol(strings.ToLower(c.Protocol))
	if err != nil {
		return webrtc.ICECandidate{}, fmt.Errorf("%w: candidate protocol %q", domain.ErrInvalidRequest, c.Protocol)
	}
	typ, err := webrtc.NewICECandidateType(strings.ToLower(c.Type))
	if err != nil {
		return webrtc.ICECandidate{}, fmt.Errorf("%w: candidate type %q", domain.ErrInvalidRequest, c.Type)
	}
	return webrtc.ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Address:    c.IP,
		Protocol:   protocol,
		Port:       c.Port,
		Typ:        typ,
		Component:  1,
		TCPType:    c.TCPType,
	}, nil
}

func fromDTLSRole(r webrtc.DTLSRole) string {
	switch r {
	case webrtc.DTLSRoleClient:
		return "client"
	case webrtc.DTLSRoleServer:
		return "server"
	default:
		return "auto"
	}
}

func toDTLSRole(role string) (webrtc.DTLSRole, error) {
	switch strings.ToLower(role) {
	case "", "auto":
		return webrtc.DTLSRoleAuto, nil
	case "client":
		return webrtc.DTLSRoleClient, nil
	case "server":
		return webrtc.DTLSRoleServer, nil
	}
	return webrtc.DTLSRoleAuto, fmt.Errorf("%w: dtls role %q", domain.ErrInvalidRequest, role)
}

func fromDTLSParameters(p webrtc.DTLSParameters) domain.DtlsParameters {
	out := domain.DtlsParameters{Role: fromDTLSRole(p.Role)}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, domain.DtlsFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return out
}

func toDTLSParameters(p domain.DtlsParameters) (webrtc.DTLSParameters, error) {
	role, err := toDTLSRole(p.Role)
	if err != nil {
		return webrtc.DTLSParameters{}, err
	}
	out := webrtc.DTLSParameters{Role: role}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return out, nil
}

// SplitPortRange gives worker index its share of [min, max].
func SplitPortRange(min, max uint16, index, workers int) (uint16, uint16, error) {
	total := int(max) - int(min) + 1
	if workers <= 0 || total < workers {
		return 0, 0, fmt.Errorf("port range %d-%d too small for %d workers", min, max, workers)
	}
	span := total / workers
	lo := int(min) + index*span
	hi := lo + span - 1
	if index == workers-1 {
		hi = int(max)
	}
	return uint16(lo), uint16(hi), nil
}
