package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
	"github.com/chuanjin/obdbridge/internal/ingest"
	"github.com/chuanjin/obdbridge/internal/obd"
)

const maxBodyBytes = 64 << 10

// OBDAPI handles the OBD-II decode and emulation endpoints.
type OBDAPI struct {
	decoder    *obd.Decoder
	dispatcher *ingest.Dispatcher
	emulated   []uint8
	now        func() time.Time
}

// NewOBDAPI creates the OBD-II handlers.
func NewOBDAPI(dec *obd.Decoder, d *ingest.Dispatcher, emulated []uint8) *OBDAPI {
	return &OBDAPI{
		decoder:    dec,
		dispatcher: d,
		emulated:   emulated,
		now:        time.Now,
	}
}

// FrameResponse pairs a frame with its candump rendering and, when the frame
// decodes, the reading.
type FrameResponse struct {
	Frame   canbus.Frame `json:"frame"`
	Candump string       `json:"candump"`
	Result  *obd.Result  `json:"result,omitempty"`
}

// SupportedResponse is returned by the supported-PID endpoints.
type SupportedResponse struct {
	Block   uint8        `json:"block"`
	Frame   canbus.Frame `json:"frame"`
	Candump string       `json:"candump"`
	PIDs    []uint8      `json:"pids"`
}

// PIDInfo is the listing form of a registry entry.
type PIDInfo struct {
	PID   string `json:"pid"`
	Name  string `json:"name"`
	Unit  string `json:"unit"`
	Bytes int    `json:"bytes"`
}

// ListPIDs returns every decodable PID.
func (a *OBDAPI) ListPIDs(w http.ResponseWriter, r *http.Request) {
	defs := a.decoder.Registry().Definitions()
	out := make([]PIDInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, PIDInfo{
			PID:   fmt.Sprintf("%02X", d.PID),
			Name:  d.Name,
			Unit:  d.Unit,
			Bytes: d.Bytes,
		})
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"count": len(out), "pids": out})
}

// Decode decodes one response frame. Frames that are not decodable
// responses get 422.
func (a *OBDAPI) Decode(w http.ResponseWriter, r *http.Request) {
	f, err := a.readFrame(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, ok := a.decoder.ParseResponseFrame(f)
	if !ok {
		respondWithError(w, http.StatusUnprocessableEntity, "frame is not a decodable OBD-II service 01 response")
		return
	}
	respondWithJSON(w, http.StatusOK, FrameResponse{Frame: f, Candump: f.String(), Result: &res})
}

// Emulate returns the emulated ECU answer for ?pid=.
func (a *OBDAPI) Emulate(w http.ResponseWriter, r *http.Request) {
	pid, err := parseHexByte("pid", r.URL.Query().Get("pid"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	f, ok := obd.EmulateResponse(pid, a.now())
	if !ok {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("PID %02X is not emulated", pid))
		return
	}

	resp := FrameResponse{Frame: f, Candump: f.String()}
	if res, ok := a.decoder.ParseResponseFrame(f); ok {
		resp.Result = &res
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// Supported returns the emulated supported-PIDs answer for ?block=
// (default 00).
func (a *OBDAPI) Supported(w http.ResponseWriter, r *http.Request) {
	block, ok := a.block(w, r)
	if !ok {
		return
	}

	f := obd.EmulatePIDSupport(block, a.emulated, a.now())
	respondWithJSON(w, http.StatusOK, SupportedResponse{
		Block:   block,
		Frame:   f,
		Candump: f.String(),
		PIDs:    obd.ParseSupportedPIDs(f.Data[:], block),
	})
}

// DecodeSupported decodes a supported-PIDs answer given as ?frame=<candump>.
func (a *OBDAPI) DecodeSupported(w http.ResponseWriter, r *http.Request) {
	block, ok := a.block(w, r)
	if !ok {
		return
	}
	f, err := canbus.Parse(r.URL.Query().Get("frame"), a.now())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SupportedResponse{
		Block:   block,
		Frame:   f,
		Candump: f.String(),
		PIDs:    obd.ParseSupportedPIDs(f.Payload(), block),
	})
}

// Ingest routes one frame through the dispatcher.
func (a *OBDAPI) Ingest(w http.ResponseWriter, r *http.Request) {
	f, err := a.readFrame(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	reading, err := a.dispatcher.Ingest(f)
	switch {
	case errors.Is(err, ingest.ErrUnbound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case err != nil:
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondWithJSON(w, http.StatusOK, reading)
	}
}

// Bindings lists the dispatcher routes.
func (a *OBDAPI) Bindings(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, a.dispatcher.Bindings())
}

func (a *OBDAPI) block(w http.ResponseWriter, r *http.Request) (uint8, bool) {
	raw := r.URL.Query().Get("block")
	if raw == "" {
		return 0, true
	}
	block, err := parseHexByte("block", raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	if !obd.IsSupportBlock(block) {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("block %02X is not a supported-PIDs query (want 00, 20, 40, ...)", block))
		return 0, false
	}
	return block, true
}

// frameRequest accepts either a candump string or the frame JSON shape.
type frameRequest struct {
	Candump string `json:"candump"`
	canbus.Frame
}

func (a *OBDAPI) readFrame(r *http.Request) (canbus.Frame, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return canbus.Frame{}, fmt.Errorf("failed to read body: %v", err)
	}

	var req frameRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return canbus.Frame{}, fmt.Errorf("invalid request body: %v", err)
	}

	if s := strings.TrimSpace(req.Candump); s != "" {
		return canbus.Parse(s, a.now())
	}
	f := req.Frame
	if f.Timestamp == 0 {
		f.Timestamp = a.now().UnixMilli()
	}
	if err := f.Validate(); err != nil {
		return canbus.Frame{}, err
	}
	return f, nil
}
