package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, New("debug").GetLevel())
	assert.Equal(t, logrus.WarnLevel, New("WARN").GetLevel())
	assert.Equal(t, logrus.InfoLevel, New("chatty").GetLevel())
}

func TestNewFieldNames(t *testing.T) {
	log := New("info")
	var buf bytes.Buffer
	log.Out = &buf

	log.WithField("order_id", 42).Info("order submitted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "order submitted", line["message"])
	assert.Equal(t, "info", line["severity"])
	assert.Contains(t, line, "timestamp")
	assert.EqualValues(t, 42, line["order_id"])
}
