package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// maxPayloadSize rejects oversized payloads before parsing.
const maxPayloadSize = 4096

// DecodeAccessRequest validates and decodes an AccessRequest.
func DecodeAccessRequest(payload []byte) (AccessRequest, error) {
	var v AccessRequest
	err := decode("access_request", "access_request.json", payload, &v)
	return v, err
}

// DecodeAccessResponse validates and decodes an AccessResponse.
func DecodeAccessResponse(payload []byte) (AccessResponse, error) {
	var v AccessResponse
	err := decode("access_response", "access_response.json", payload, &v)
	return v, err
}

// DecodeTelemetry validates and decodes a Telemetry sample.
func DecodeTelemetry(payload []byte) (Telemetry, error) {
	var v Telemetry
	err := decode("telemetry", "telemetry.json", payload, &v)
	return v, err
}

// DecodeLightCommand validates and decodes a LightCommand.
// Unknown modes and unexpected fields are rejected.
func DecodeLightCommand(payload []byte) (LightCommand, error) {
	var v LightCommand
	err := decode("light_command", "light_command.json", payload, &v)
	return v, err
}

// DecodeLightStatus validates and decodes a LightStatus.
func DecodeLightStatus(payload []byte) (LightStatus, error) {
	var v LightStatus
	err := decode("light_status", "light_status.json", payload, &v)
	return v, err
}

func decode(message, schema string, payload []byte, dst any) error {
	if len(payload) > maxPayloadSize {
		return &ParseError{Message: message, Err: fmt.Errorf("payload of %d bytes exceeds %d", len(payload), maxPayloadSize)}
	}

	inst, err := unmarshalInstance(payload)
	if err != nil {
		return &ParseError{Message: message, Err: err}
	}
	if err := schemas[schema].Validate(inst); err != nil {
		return &ParseError{Message: message, Err: err}
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return &ParseError{Message: message, Err: err}
	}
	return nil
}

// unmarshalInstance parses JSON keeping numbers exact for integer checks.
func unmarshalInstance(payload []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var inst any
	if err := dec.Decode(&inst); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return inst, nil
}
