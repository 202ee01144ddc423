package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpCodecCapability describes a codec a router or endpoint can handle.
type RtpCodecCapability struct {
	Kind                 MediaKind              `json:"kind"`
	MimeType             string                 `json:"mimeType"`
	PreferredPayloadType uint8                  `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32                 `json:"clockRate"`
	Channels             uint16                 `json:"channels,omitempty"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback         `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtension struct {
	Kind        MediaKind `json:"kind,omitempty"`
	URI         string    `json:"uri"`
	PreferredID int       `json:"preferredId,omitempty"`
}

type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

// RtpCodecParameters is a codec as actually used on a stream.
type RtpCodecParameters struct {
	MimeType     string                 `json:"mimeType"`
	PayloadType  uint8                  `json:"payloadType"`
	ClockRate    uint32                 `json:"clockRate"`
	Channels     uint16                 `json:"channels,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback         `json:"rtcpFeedback,omitempty"`
}

type RtxParameters struct {
	Ssrc uint32 `json:"ssrc"`
}

type RtpEncodingParameters struct {
	Ssrc uint32         `json:"ssrc,omitempty"`
	Rid  string         `json:"rid,omitempty"`
	Rtx  *RtxParameters `json:"rtx,omitempty"`
}

type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
}

type RtpParameters struct {
	Mid       string                  `json:"mid,omitempty"`
	Codecs    []RtpCodecParameters    `json:"codecs"`
	Encodings []RtpEncodingParameters `json:"encodings,omitempty"`
	Rtcp      RtcpParameters          `json:"rtcp,omitempty"`
}

// IsRtx reports whether the mime type names a retransmission codec.
func IsRtx(mimeType string) bool {
	return strings.HasSuffix(strings.ToLower(mimeType), "/rtx")
}

// KindOfMime returns the media kind encoded in a mime type such as "audio/opus".
func KindOfMime(mimeType string) MediaKind {
	kind, _, _ := strings.Cut(strings.ToLower(mimeType), "/")
	return MediaKind(kind)
}

func channelsOrDefault(kind MediaKind, ch uint16) uint16 {
	if kind == KindAudio && ch == 0 {
		return 1
	}
	return ch
}

func h264PacketizationMode(params map[string]interface{}) int {
	switch v := params["packetization-mode"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// codecsMatch compares codec identity, ignoring payload types and feedback.
func codecsMatch(aMime string, aRate uint32, aCh uint16, aParams map[string]interface{},
	bMime string, bRate uint32, bCh uint16, bParams map[string]interface{}) bool {
	if !strings.EqualFold(aMime, bMime) || aRate != bRate {
		return false
	}
	kind := KindOfMime(aMime)
	if channelsOrDefault(kind, aCh) != channelsOrDefault(kind, bCh) {
		return false
	}
	if strings.EqualFold(aMime, "video/h264") && h264PacketizationMode(aParams) != h264PacketizationMode(bParams) {
		return false
	}
	return true
}

// MatchCodec finds the capability in caps that can carry codec.
func (caps RtpCapabilities) MatchCodec(codec RtpCodecCapability) (RtpCodecCapability, bool) {
	for _, c := range caps.Codecs {
		if IsRtx(c.MimeType) {
			continue
		}
		if codecsMatch(c.MimeType, c.ClockRate, c.Channels, c.Parameters,
			codec.MimeType, codec.ClockRate, codec.Channels, codec.Parameters) {
			return c, true
		}
	}
	return RtpCodecCapability{}, false
}

// ValidateProduce checks producer parameters against the router capability
// set and returns the router codec the producer's media will be forwarded as.
func ValidateProduce(router RtpCapabilities, kind MediaKind, params RtpParameters) (RtpCodecCapability, error) {
	if !kind.Valid() {
		return RtpCodecCapability{}, fmt.Errorf("%w: invalid kind %q", ErrInvalidRequest, kind)
	}
	if len(params.Encodings) == 0 || params.Encodings[0].Ssrc == 0 {
		return RtpCodecCapability{}, fmt.Errorf("%w: rtpParameters.encodings must carry an ssrc", ErrInvalidRequest)
	}

	for _, codec := range params.Codecs {
		if IsRtx(codec.MimeType) {
			continue
		}
		if KindOfMime(codec.MimeType) != kind {
			return RtpCodecCapability{}, fmt.Errorf("%w: codec %s does not match kind %s", ErrInvalidRequest, codec.MimeType, kind)
		}
		for _, rc := range router.Codecs {
			if rc.Kind != kind {
				continue
			}
			if codecsMatch(rc.MimeType, rc.ClockRate, rc.Channels, rc.Parameters,
				codec.MimeType, codec.ClockRate, codec.Channels, codec.Parameters) {
				return rc, nil
			}
		}
		return RtpCodecCapability{}, fmt.Errorf("%w: codec %s not supported by router", ErrInvalidRequest, codec.MimeType)
	}
	return RtpCodecCapability{}, fmt.Errorf("%w: rtpParameters.codecs is empty", ErrInvalidRequest)
}

// CanConsume reports whether an endpoint with caps can receive media sent
// as routerCodec.
func CanConsume(routerCodec RtpCodecCapability, caps RtpCapabilities) bool {
	_, ok := caps.MatchCodec(routerCodec)
	return ok
}

// ConsumerRtpParameters derives the parameters a consumer sends with. The
// payload type is the router's, feedback is limited to what the endpoint
// declared.
func ConsumerRtpParameters(routerCodec RtpCodecCapability, caps RtpCapabilities, ssrc uint32, cname string) (RtpParameters, error) {
	remote, ok := caps.MatchCodec(routerCodec)
	if !ok {
		return RtpParameters{}, ErrIncompatibleCapabilities
	}

	var feedback []RtcpFeedback
	for _, fb := range routerCodec.RtcpFeedback {
		for _, rfb := range remote.RtcpFeedback {
			if fb == rfb {
				feedback = append(feedback, fb)
				break
			}
		}
	}

	return RtpParameters{
		Codecs: []RtpCodecParameters{{
			MimeType:     routerCodec.MimeType,
			PayloadType:  routerCodec.PreferredPayloadType,
			ClockRate:    routerCodec.ClockRate,
			Channels:     routerCodec.Channels,
			Parameters:   routerCodec.Parameters,
			RtcpFeedback: feedback,
		}},
		Encodings: []RtpEncodingParameters{{Ssrc: ssrc}},
		Rtcp:      RtcpParameters{Cname: cname, ReducedSize: true},
	}, nil
}

// ParseFmtp turns "a=1;b=x" into a parameter map; integer values become float64
// so they compare equal to values decoded from JSON.
func ParseFmtp(line string) map[string]interface{} {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	params := make(map[string]interface{})
	for _, part := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && strconv.Itoa(n) == v {
			params[k] = float64(n)
			continue
		}
		params[k] = v
	}
	return params
}

// FormatFmtp is the inverse of ParseFmtp with keys sorted.
func FormatFmtp(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ";")
}
