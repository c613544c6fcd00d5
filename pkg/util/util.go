package util

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"
)

// DecodeNullTerminatedString decodes the base64 string and splits the resulting
// binary data into a slice of strings using the null byte (\x00) as a delimiter.
func DecodeNullTerminatedString(encodedData string) ([]string, error) {
	rawBytes, err := base64.StdEncoding.DecodeString(encodedData)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64: %w", err)
	}

	var decodedStrings []string
	start := 0

	for i, b := range rawBytes {
		if b == 0x00 {
			s := string(rawBytes[start:i])

			// skip empties from double nulls and trailing padding
			if len(s) > 0 {
				decodedStrings = append(decodedStrings, s)
			}

			start = i + 1
		}
	}

	// Handle any remaining data (if it doesn't end with \x00)
	if start < len(rawBytes) {
		s := string(rawBytes[start:])
		if len(s) > 0 {
			decodedStrings = append(decodedStrings, s)
		}
	}

	return decodedStrings, nil
}

// SendJSON marshals data and writes it as a single text frame.
// gorilla connections allow one concurrent writer, callers serialise.
func SendJSON(conn *websocket.Conn, data any) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("error writing message: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML file and unmarshals it into a struct of type T.
func LoadConfig[T any](filepath string) (*T, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config T

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	return &config, nil
}
