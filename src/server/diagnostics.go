package server

import (
	"encoding/json"
	"fmt"

	"go.lsp.dev/protocol"

	"lspsync/src/internal/common"
)

// Raw shapes for defensive decoding of publishDiagnostics params. Entries
// are decoded individually so one malformed entry never discards the rest.
type rawPublishDiagnostics struct {
	URI         string            `json:"uri"`
	Diagnostics []json.RawMessage `json:"diagnostics"`
}

type rawDiagnostic struct {
	Range    *rawRange   `json:"range"`
	Severity *int        `json:"severity"`
	Code     interface{} `json:"code"`
	Source   string      `json:"source"`
	Message  *string     `json:"message"`
}

type rawRange struct {
	Start *rawPosition `json:"start"`
	End   *rawPosition `json:"end"`
}

type rawPosition struct {
	Line      *int `json:"line"`
	Character *int `json:"character"`
}

// NormalizeDiagnostics validates a publishDiagnostics payload into typed
// diagnostics. Malformed entries are dropped, never propagated as partial
// data. An error is returned only when the payload as a whole is unusable.
func NormalizeDiagnostics(params json.RawMessage) (protocol.DocumentURI, []protocol.Diagnostic, error) {
	var raw rawPublishDiagnostics
	if err := json.Unmarshal(params, &raw); err != nil {
		return "", nil, fmt.Errorf("decode publishDiagnostics params: %w", err)
	}
	if raw.URI == "" {
		return "", nil, fmt.Errorf("publishDiagnostics without uri")
	}

	diags := make([]protocol.Diagnostic, 0, len(raw.Diagnostics))
	for _, entry := range raw.Diagnostics {
		var rd rawDiagnostic
		if err := json.Unmarshal(entry, &rd); err != nil {
			common.LSPLogger.Debug("Dropping undecodable diagnostic entry for %s: %v", raw.URI, err)
			continue
		}
		d, ok := normalizeEntry(&rd)
		if !ok {
			common.LSPLogger.Debug("Dropping malformed diagnostic entry for %s", raw.URI)
			continue
		}
		diags = append(diags, d)
	}
	return protocol.DocumentURI(raw.URI), diags, nil
}

// normalizeEntry validates one diagnostic. A usable entry needs a complete
// non-negative range and a message; severity outside 1..4 coerces to error.
func normalizeEntry(rd *rawDiagnostic) (protocol.Diagnostic, bool) {
	if rd.Message == nil || rd.Range == nil || rd.Range.Start == nil || rd.Range.End == nil {
		return protocol.Diagnostic{}, false
	}
	start, ok := normalizePosition(rd.Range.Start)
	if !ok {
		return protocol.Diagnostic{}, false
	}
	end, ok := normalizePosition(rd.Range.End)
	if !ok {
		return protocol.Diagnostic{}, false
	}

	severity := protocol.DiagnosticSeverityError
	if rd.Severity != nil && *rd.Severity >= 1 && *rd.Severity <= 4 {
		severity = protocol.DiagnosticSeverity(*rd.Severity)
	}

	return protocol.Diagnostic{
		Range:    protocol.Range{Start: start, End: end},
		Severity: severity,
		Code:     rd.Code,
		Source:   rd.Source,
		Message:  *rd.Message,
	}, true
}

func normalizePosition(rp *rawPosition) (protocol.Position, bool) {
	if rp.Line == nil || rp.Character == nil || *rp.Line < 0 || *rp.Character < 0 {
		return protocol.Position{}, false
	}
	return protocol.Position{Line: uint32(*rp.Line), Character: uint32(*rp.Character)}, true
}
