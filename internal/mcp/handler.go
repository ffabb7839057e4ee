package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
	"github.com/chuanjin/obdbridge/internal/ingest"
	"github.com/chuanjin/obdbridge/internal/logger"
	"github.com/chuanjin/obdbridge/internal/obd"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Server wraps the MCP server with the OBD decoder and emulator
type Server struct {
	decoder    *obd.Decoder
	dispatcher *ingest.Dispatcher
	emulated   []uint8
	now        func() time.Time
	mcpServer  *mcp.Server
}

// NewServer creates a new MCP server for OBD Bridge
func NewServer(dec *obd.Decoder, d *ingest.Dispatcher, emulated []uint8) *Server {
	if dec == nil {
		dec = obd.NewDecoder(nil)
	}
	if d == nil {
		d = ingest.NewDefaultDispatcher(dec)
	}
	if emulated == nil {
		emulated = obd.DefaultEmulatedPIDs
	}
	s := &Server{
		decoder:    dec,
		dispatcher: d,
		emulated:   emulated,
		now:        time.Now,
	}

	// Create MCP server with implementation info
	impl := &mcp.Implementation{
		Name:    "obdbridge",
		Version: "1.0.0",
	}

	s.mcpServer = mcp.NewServer(impl, nil)

	s.registerResources()
	s.registerTools()

	return s
}

// Run starts the MCP server over stdio transport
func (s *Server) Run(ctx context.Context) error {
	logger.Info("Starting OBD Bridge MCP Server...")
	transport := &mcp.StdioTransport{}
	return s.mcpServer.Run(ctx, transport)
}

// registerResources adds all MCP resources
func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "pid://registry",
		Name:        "PID Registry",
		Description: "Every decodable OBD-II service 01 PID with name, unit and byte count",
		MIMEType:    "application/json",
	}, s.handleRegistry)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "can://bindings",
		Name:        "Ingest Bindings",
		Description: "CAN ID ranges and the decoder bound to each",
		MIMEType:    "application/json",
	}, s.handleBindings)
}

// registerTools adds all MCP tools
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "decode_frame",
		Description: "Decode a CAN frame in candump form (e.g. 7E8#04410C1AF8) as OBD-II or telemetry",
	}, s.handleDecodeFrame)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_pids",
		Description: "List all decodable OBD-II PIDs",
	}, s.handleListPIDs)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "emulate_response",
		Description: "Synthesize the emulated ECU response frame for a PID",
	}, s.handleEmulateResponse)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "supported_pids",
		Description: "Decode the supported-PIDs bitmask of a response frame",
	}, s.handleSupportedPIDs)
}

// Resource Handlers

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

func (s *Server) handleRegistry(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(req.Params.URI, s.pidInfos())
}

func (s *Server) handleBindings(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(req.Params.URI, s.dispatcher.Bindings())
}

// Tool Handlers

type DecodeFrameInput struct {
	Frame string `json:"frame" jsonschema:"CAN frame in candump form, e.g. 7E8#04410C1AF8"`
}

type DecodeFrameOutput struct {
	Frame   canbus.Frame   `json:"frame" jsonschema:"Parsed frame"`
	Reading ingest.Reading `json:"reading" jsonschema:"Decoded value"`
}

func (s *Server) handleDecodeFrame(ctx context.Context, req *mcp.CallToolRequest, input DecodeFrameInput) (*mcp.CallToolResult, DecodeFrameOutput, error) {
	f, err := canbus.Parse(input.Frame, s.now())
	if err != nil {
		return nil, DecodeFrameOutput{}, fmt.Errorf("invalid frame: %v", err)
	}

	reading, err := s.dispatcher.Ingest(f)
	if err != nil {
		return nil, DecodeFrameOutput{}, fmt.Errorf("decode failed: %v", err)
	}

	logger.Info("MCP: Decoded frame", zap.String("protocol", reading.Protocol), zap.String("name", reading.Name))

	return nil, DecodeFrameOutput{Frame: f, Reading: reading}, nil
}

type PIDInfo struct {
	PID   string `json:"pid" jsonschema:"PID code in hex"`
	Name  string `json:"name" jsonschema:"Human readable name"`
	Unit  string `json:"unit" jsonschema:"Engineering unit"`
	Bytes int    `json:"bytes" jsonschema:"Data bytes the formula uses"`
}

type ListPIDsOutput struct {
	PIDs []PIDInfo `json:"pids" jsonschema:"Decodable PIDs in ascending order"`
}

func (s *Server) pidInfos() []PIDInfo {
	defs := s.decoder.Registry().Definitions()
	out := make([]PIDInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, PIDInfo{
			PID:   fmt.Sprintf("%02X", d.PID),
			Name:  d.Name,
			Unit:  d.Unit,
			Bytes: d.Bytes,
		})
	}
	return out
}

func (s *Server) handleListPIDs(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, ListPIDsOutput, error) {
	pids := s.pidInfos()
	logger.Info("MCP: Listed PIDs", zap.Int("count", len(pids)))
	return nil, ListPIDsOutput{PIDs: pids}, nil
}

type EmulateResponseInput struct {
	PID string `json:"pid" jsonschema:"PID code in hex, e.g. 0C"`
}

type EmulateResponseOutput struct {
	Frame   string     `json:"frame" jsonschema:"Response frame in candump form"`
	Decoded obd.Result `json:"decoded" jsonschema:"The frame decoded back"`
}

func (s *Server) handleEmulateResponse(ctx context.Context, req *mcp.CallToolRequest, input EmulateResponseInput) (*mcp.CallToolResult, EmulateResponseOutput, error) {
	pid, err := parsePID(input.PID)
	if err != nil {
		return nil, EmulateResponseOutput{}, err
	}

	f, ok := obd.EmulateResponse(pid, s.now())
	if !ok {
		return nil, EmulateResponseOutput{}, fmt.Errorf("PID %02X is not emulated", pid)
	}
	res, ok := s.decoder.ParseResponseFrame(f)
	if !ok {
		return nil, EmulateResponseOutput{}, fmt.Errorf("emulated frame for PID %02X did not decode", pid)
	}

	return nil, EmulateResponseOutput{Frame: f.String(), Decoded: res}, nil
}

type SupportedPIDsInput struct {
	Frame string `json:"frame,omitempty" jsonschema:"Supported-PIDs response in candump form; omit to use the emulated ECU"`
	Block string `json:"block,omitempty" jsonschema:"Query block in hex: 00, 20, 40, ... (default 00)"`
}

type SupportedPIDsOutput struct {
	Frame string   `json:"frame" jsonschema:"The response frame in candump form"`
	PIDs  []string `json:"pids" jsonschema:"Supported PID codes in hex"`
}

func (s *Server) handleSupportedPIDs(ctx context.Context, req *mcp.CallToolRequest, input SupportedPIDsInput) (*mcp.CallToolResult, SupportedPIDsOutput, error) {
	var block uint8
	if input.Block != "" {
		var err error
		if block, err = parsePID(input.Block); err != nil {
			return nil, SupportedPIDsOutput{}, err
		}
	}
	if !obd.IsSupportBlock(block) {
		return nil, SupportedPIDsOutput{}, fmt.Errorf("block %02X is not a supported-PIDs query", block)
	}

	var f canbus.Frame
	if input.Frame == "" {
		f = obd.EmulatePIDSupport(block, s.emulated, s.now())
	} else {
		var err error
		if f, err = canbus.Parse(input.Frame, s.now()); err != nil {
			return nil, SupportedPIDsOutput{}, fmt.Errorf("invalid frame: %v", err)
		}
	}

	pids := obd.ParseSupportedPIDs(f.Payload(), block)
	out := SupportedPIDsOutput{Frame: f.String(), PIDs: make([]string, 0, len(pids))}
	for _, pid := range pids {
		out.PIDs = append(out.PIDs, fmt.Sprintf("%02X", pid))
	}
	return nil, out, nil
}

func parsePID(v string) (uint8, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid PID %q: %v", v, err)
	}
	return uint8(n), nil
}
