package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/firestige/Otus/health"
	"github.com/firestige/Otus/message"
)

// commandRequest is the POST /api/command body
type commandRequest struct {
	Target  string          `json:"target"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
	Wait    *bool           `json:"wait"`
}

// handleCommand publishes a command to the fleet. Waited sends block until
// the response arrives or the wait deadline passes; fire-and-forget and
// wildcard sends return as soon as the broker acknowledges the publish.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req := commandRequest{Target: "uas", Command: "task_list"}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	wait := req.Wait == nil || *req.Wait
	command := message.Command(req.Command)

	// Broadcast and fire-and-forget sends return immediately.
	if !wait || req.Target == message.TargetWildcard {
		requestID, err := s.dispatcher.Send(r.Context(), req.Target, command, req.Payload)
		if err != nil {
			status, msg := s.mapError(err)
			s.logger.Warn("command send failed",
				"target", req.Target, "command", req.Command, "error", err)
			s.writeError(w, status, msg)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"ok":         true,
			"request_id": requestID,
		})
		return
	}

	resp, requestID, err := s.dispatcher.SendAndWait(r.Context(), req.Target, command, req.Payload)
	if err != nil {
		status, msg := s.mapError(err)
		if status == http.StatusGatewayTimeout {
			s.requestsFailed.Add(1)
			s.writeJSON(w, status, map[string]any{
				"ok":         false,
				"request_id": requestID,
				"error":      msg,
			})
			return
		}
		s.logger.Warn("command failed",
			"target", req.Target, "command", req.Command, "error", err)
		s.writeError(w, status, msg)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":         !resp.IsError(),
		"request_id": requestID,
		"response":   resp,
	})
}

// handlePackets returns the buffered packet history for a channel,
// newest-last, capped at the snapshot limit.
func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	channel, ok := s.trimChannel(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid channel")
		return
	}

	packets, _ := s.ingest.Snapshot(channel, 0)
	if packets == nil {
		packets = []message.PacketRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"channel": channel,
		"count":   len(packets),
		"packets": packets,
	})
}

// handleHealth reports instance identity plus the rolled-up component
// statuses. The instance id distinguishes replicas behind a load balancer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	subStatuses := make([]health.Status, 0, len(s.components))
	for _, c := range s.components {
		subStatuses = append(subStatuses, health.FromComponentHealth(c.Meta().Name, c.Health()))
	}
	overall := health.Aggregate("console", subStatuses)

	statusCode := http.StatusOK
	if overall.IsUnhealthy() {
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, map[string]any{
		"status":      overall.Status,
		"instance_id": s.instanceID,
		"time":        time.Now().UTC().Format(time.RFC3339),
		"components":  overall.SubStatuses,
	})
}
