package exporters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOTLPExporter_RejectsUnknownProtocol(t *testing.T) {
	_, err := NewOTLPExporter(context.Background(), OTLPConfig{Endpoint: "localhost:4317", Protocol: "udp"})
	assert.ErrorContains(t, err, `unsupported OTLP protocol "udp"`)
}

func TestOptions_Insecure(t *testing.T) {
	secure := OTLPConfig{Endpoint: "collector:4317"}
	insecure := OTLPConfig{Endpoint: "collector:4317", Insecure: true}

	assert.Len(t, grpcOptions(secure, 0), 3)
	assert.Len(t, grpcOptions(insecure, 0), 5)
	assert.Len(t, httpOptions(secure, 0), 3)
	assert.Len(t, httpOptions(insecure, 0), 4)
}
