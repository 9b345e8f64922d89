package gateway

import (
	"fmt"
	"net/http"
)

// sipPorts maps the known node groups to their SIP signalling ports.
// Unknown channels fall back to 5060.
var sipPorts = map[string]int{
	"uas": 5060,
	"uac": 5061,
}

// handleTaskTemplate returns a ready-to-use task_create payload for a
// channel. The node daemon's task_create handler wraps its task config
// under a "config" key, so the template does too: the client can POST the
// body straight back through /api/command as the payload.
func (s *Server) handleTaskTemplate(w http.ResponseWriter, r *http.Request) {
	channel, ok := s.trimChannel(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid channel")
		return
	}

	port, ok := sipPorts[channel]
	if !ok {
		port = 5060
	}

	dataTopic := s.dataTopics[channel]
	if dataTopic == "" {
		dataTopic = fmt.Sprintf("otus-%s-logs", channel)
	}

	taskConfig := map[string]any{
		"id":      fmt.Sprintf("sip-%s-capture", channel),
		"workers": 1,
		"capture": map[string]any{
			"name":          "afpacket",
			"dispatch_mode": "binding",
			"interface":     "eth0",
			// SIP signalling plus the RTP media port ranges of both roles.
			"bpf_filter": fmt.Sprintf("udp port %d or (udp and portrange 10000-10200)", port),
			// Must be a power of two to divide the default block size.
			"snap_len": 65536,
		},
		"decoder": map[string]any{
			"tunnels":       []any{},
			"ip_reassembly": false,
		},
		"parsers": []map[string]any{
			{"name": "sip", "config": map[string]any{}},
		},
		"processors": []any{},
		"reporters": []map[string]any{
			{
				"name": "kafka",
				"config": map[string]any{
					"topic":         dataTopic,
					"brokers":       s.brokers,
					"serialization": "json",
				},
			},
		},
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"config": taskConfig})
}
