package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON_Layouts(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ids     []string
	}{
		{
			name:    "ndjson",
			content: "{\"id\":\"a\"}\n{\"id\":\"b\"}\n",
			ids:     []string{"a", "b"},
		},
		{
			name:    "array",
			content: `[{"id":"a"},{"id":"b"},{"id":"c"}]`,
			ids:     []string{"a", "b", "c"},
		},
		{
			name: "cloudwatch envelope",
			content: `{"owner":"123","logGroup":"/aws/website/ecommerce","logStream":"web-traffic-1",
				"logEvents":[{"id":"a","timestamp":1,"message":{"page":"/","status":200}}]}`,
			ids: []string{"a"},
		},
		{
			name:    "single object",
			content: `{"id":"solo"}`,
			ids:     []string{"solo"},
		},
		{
			name:    "empty",
			content: "   \n",
			ids:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ParseJSON([]byte(tt.content), rawSchema)
			require.NoError(t, err)
			var ids []string
			for _, r := range rows {
				ids = append(ids, r.String("id"))
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestParseJSON_CoercesNumbers(t *testing.T) {
	rows, err := ParseJSON([]byte(`{"id":"a","timestamp":1700000000123,"message":{"status":404}}`), rawSchema)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1700000000123), rows[0]["timestamp"])
	assert.Equal(t, int64(404), rows[0].Int("message.status"))
	v, ok := rows[0].Get("message.page")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestParseJSON_Malformed(t *testing.T) {
	cases := map[string]string{
		"truncated":        `{"id":"a"`,
		"scalar":           `42`,
		"array of scalars": `[1,2]`,
		"bad envelope":     `{"logEvents":"x"}`,
		"wrong type":       `{"id":7}`,
		"mixed stream":     "{\"id\":\"a\"}\n[1]",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJSON([]byte(content), rawSchema)
			assert.Error(t, err)
		})
	}
}
