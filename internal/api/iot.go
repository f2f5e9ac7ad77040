package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/smartrack-core/internal/auth"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/mqtt"
)

const (
	ctxKeyGatewayConnection contextKey = "gateway_connection"

	// reportClockSkew tolerates gateway clocks running slightly ahead.
	reportClockSkew = 10 * time.Second
	maxNodeBatch    = 256
)

// gatewayConnection is what the IoT middleware learnt about the caller.
type gatewayConnection struct {
	ID            int64
	Serial        string
	LastConnected time.Time
}

type nodeStatusReport struct {
	CurrentBattery *int       `json:"current_battery"`
	Timestamp      *time.Time `json:"timestamp"`
}

type nodeStockReport struct {
	SlotIndex           *int       `json:"slot_index"`
	CurrentStockPercent *float64   `json:"current_stock_percent"`
	Timestamp           *time.Time `json:"timestamp"`
}

// recordGatewayConnection stamps last_connected for the authenticated
// gateway before any IoT handler runs and forwards the presence to the
// bus and telemetry store.
func (s *Server) recordGatewayConnection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device, _ := auth.DeviceFromContext(r.Context())
		if device == nil {
			s.writeAuthError(w, r, auth.ErrUnauthenticated)
			return
		}

		at, err := s.svc.RecordGatewayConnection(r.Context(), device.ID)
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}

		conn := &gatewayConnection{ID: device.ID, LastConnected: at}
		if s.events != nil || s.telemetry != nil {
			gw, err := s.svc.GetGateway(r.Context(), device.ID)
			if err != nil {
				s.writeAuthError(w, r, err)
				return
			}
			conn.Serial = gw.SerialNumber
			s.forwardGatewayConnection(conn)
		}

		ctx := context.WithValue(r.Context(), ctxKeyGatewayConnection, conn)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) forwardGatewayConnection(conn *gatewayConnection) {
	if s.telemetry != nil {
		s.telemetry.WriteGatewayConnection(conn.ID, conn.Serial, conn.LastConnected)
	}
	if s.events != nil && s.events.IsConnected() {
		ev := mqtt.GatewayEvent{
			GatewayID: conn.ID,
			Serial:    conn.Serial,
			Status:    mqtt.GatewayConnected,
			Timestamp: conn.LastConnected,
		}
		if err := s.events.PublishGatewayEvent(ev); err != nil {
			s.logger.Warn("publishing gateway connection failed", "gateway_id", conn.ID, "error", err)
		}
	}
}

func gatewayConnectionFrom(ctx context.Context) *gatewayConnection {
	conn, _ := ctx.Value(ctxKeyGatewayConnection).(*gatewayConnection)
	return conn
}

// handleGatewayHeartbeat lets a gateway check in without a payload.
func (s *Server) handleGatewayHeartbeat(w http.ResponseWriter, r *http.Request) {
	conn := gatewayConnectionFrom(r.Context())
	if conn == nil {
		s.writeAuthError(w, r, auth.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"last_connected": conn.LastConnected,
	})
}

// handleNodeBatchStatus records battery readings keyed by node serial.
func (s *Server) handleNodeBatchStatus(w http.ResponseWriter, r *http.Request) {
	conn := gatewayConnectionFrom(r.Context())
	if conn == nil {
		s.writeAuthError(w, r, auth.ErrUnauthenticated)
		return
	}

	var batch map[string]nodeStatusReport
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(batch) > maxNodeBatch {
		writeInvalidData(w, fmt.Sprintf("at most %d nodes per batch", maxNodeBatch))
		return
	}

	now := s.now().UTC()
	for serial, report := range batch {
		if serial == "" {
			writeInvalidData(w, "node serial number must not be empty")
			return
		}
		if report.CurrentBattery == nil || *report.CurrentBattery < 0 || *report.CurrentBattery > 100 {
			writeInvalidData(w, fmt.Sprintf("%s: current_battery must be between 0 and 100", serial))
			return
		}
		if msg := checkReportTime(report.Timestamp, now); msg != "" {
			writeInvalidData(w, fmt.Sprintf("%s: %s", serial, msg))
			return
		}
	}

	if s.telemetry != nil {
		for serial, report := range batch {
			s.telemetry.WriteNodeStatus(conn.ID, serial, *report.CurrentBattery, reportTime(report.Timestamp, now))
		}
	}
	s.logger.Debug("node status batch received", "gateway_id", conn.ID, "nodes", len(batch))

	w.WriteHeader(http.StatusNoContent)
}

// handleNodeBatchStock records slot stock readings keyed by node serial.
func (s *Server) handleNodeBatchStock(w http.ResponseWriter, r *http.Request) {
	conn := gatewayConnectionFrom(r.Context())
	if conn == nil {
		s.writeAuthError(w, r, auth.ErrUnauthenticated)
		return
	}

	var batch map[string][]nodeStockReport
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(batch) > maxNodeBatch {
		writeInvalidData(w, fmt.Sprintf("at most %d nodes per batch", maxNodeBatch))
		return
	}

	now := s.now().UTC()
	for serial, reports := range batch {
		if serial == "" {
			writeInvalidData(w, "node serial number must not be empty")
			return
		}
		for i, report := range reports {
			if report.SlotIndex == nil || *report.SlotIndex < 0 {
				writeInvalidData(w, fmt.Sprintf("%s[%d]: slot_index must be non-negative", serial, i))
				return
			}
			if p := report.CurrentStockPercent; p == nil || *p < 0 || *p > 100 {
				writeInvalidData(w, fmt.Sprintf("%s[%d]: current_stock_percent must be between 0 and 100", serial, i))
				return
			}
			if msg := checkReportTime(report.Timestamp, now); msg != "" {
				writeInvalidData(w, fmt.Sprintf("%s[%d]: %s", serial, i, msg))
				return
			}
		}
	}

	publish := s.events != nil && s.events.IsConnected()
	for serial, reports := range batch {
		forwarded := make([]mqtt.StockReport, 0, len(reports))
		for _, report := range reports {
			at := reportTime(report.Timestamp, now)
			if s.telemetry != nil {
				s.telemetry.WriteNodeStock(conn.ID, serial, *report.SlotIndex, *report.CurrentStockPercent, at)
			}
			forwarded = append(forwarded, mqtt.StockReport{
				SlotIndex:           *report.SlotIndex,
				CurrentStockPercent: *report.CurrentStockPercent,
				Timestamp:           at,
			})
		}
		if publish && len(forwarded) > 0 {
			if err := s.events.PublishNodeStock(serial, forwarded); err != nil {
				s.logger.Warn("publishing node stock failed", "gateway_id", conn.ID, "node", serial, "error", err)
			}
		}
	}
	s.logger.Debug("node stock batch received", "gateway_id", conn.ID, "nodes", len(batch))

	w.WriteHeader(http.StatusNoContent)
}

func checkReportTime(ts *time.Time, now time.Time) string {
	if ts != nil && ts.After(now.Add(reportClockSkew)) {
		return "timestamp must not be in the future"
	}
	return ""
}

// reportTime defaults a missing timestamp to the time of receipt.
func reportTime(ts *time.Time, now time.Time) time.Time {
	if ts == nil {
		return now
	}
	return ts.UTC()
}
