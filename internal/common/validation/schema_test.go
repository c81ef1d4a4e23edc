package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"required": ["tenantId", "channelCode"],
	"properties": {
		"tenantId":    {"type": "string", "minLength": 1},
		"channelCode": {"type": "string", "enum": ["email", "sms"]},
		"attempts":    {"type": "integer", "minimum": 0}
	},
	"additionalProperties": false
}`

func TestSchema_Validate(t *testing.T) {
	schema := MustCompile("test", testSchema)

	tests := []struct {
		name       string
		doc        map[string]interface{}
		wantValid  bool
		wantFields []string
		wantCode   string
	}{
		{
			name:      "valid document",
			doc:       map[string]interface{}{"tenantId": "t1", "channelCode": "email", "attempts": 2},
			wantValid: true,
		},
		{
			name:       "missing required",
			doc:        map[string]interface{}{"channelCode": "sms"},
			wantFields: []string{"tenantId"},
			wantCode:   "REQUIRED_FIELD_MISSING",
		},
		{
			name:       "enum violation",
			doc:        map[string]interface{}{"tenantId": "t1", "channelCode": "fax"},
			wantFields: []string{"channelCode"},
			wantCode:   "INVALID_ENUM_VALUE",
		},
		{
			name:       "wrong type",
			doc:        map[string]interface{}{"tenantId": 7, "channelCode": "sms"},
			wantFields: []string{"tenantId"},
			wantCode:   "INVALID_TYPE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := schema.Validate(tt.doc)
			assert.Equal(t, tt.wantValid, result.Valid)
			for _, f := range tt.wantFields {
				assert.True(t, result.HasErrors(f), "expected error on %s, got %v", f, result.Errors)
			}
			if tt.wantCode != "" {
				require.NotEmpty(t, result.Errors)
				assert.Equal(t, tt.wantCode, result.Errors[0].Code)
				assert.NotEmpty(t, result.Error())
			}
		})
	}
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile("broken", `{"type": 12}`)
	assert.Error(t, err)
}

func TestValidateEmailAndPhone(t *testing.T) {
	assert.True(t, ValidateEmail("user@example.com"))
	assert.False(t, ValidateEmail("user@"))
	assert.True(t, ValidatePhone("+14155550100"))
	assert.False(t, ValidatePhone("4155550100"))
}
