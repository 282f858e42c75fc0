package middleware

import (
	"errors"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type triggerRequest struct {
	Job         string   `json:"job" binding:"required,oneof=import daily_sweep status_poll"`
	Marketplace string   `json:"marketplace" binding:"required,oneof=mercadolivre amazon aliexpress"`
	MaxProducts int      `json:"max_products" binding:"omitempty,min=1,max=500"`
	OrderID     string   `form:"order_id" binding:"omitempty,uuid"`
	Note        string   `json:"note" binding:"omitempty,min=3,max=5"`
	Scopes      []string `json:"scopes" binding:"min=1"`
}

func TestSetupValidator_UsesJSONAndFormNames(t *testing.T) {
	SetupValidator()

	err := binding.Validator.ValidateStruct(triggerRequest{
		Marketplace: "ebay",
		MaxProducts: 900,
		OrderID:     "not-a-uuid",
		Scopes:      []string{"sync:read"},
	})
	require.Error(t, err)

	details, ok := ValidationDetails(err)
	require.True(t, ok)

	byField := map[string]string{}
	for _, d := range details {
		byField[d.Field] = d.Message
	}
	assert.Equal(t, map[string]string{
		"job":          "This field is required",
		"marketplace":  "Must be one of: mercadolivre amazon aliexpress",
		"max_products": "Must be at most 500",
		"order_id":     "Invalid UUID format",
	}, byField)
}

func TestValidationMessage_Lengths(t *testing.T) {
	v := validator.New()
	v.SetTagName("binding")

	err := v.Struct(triggerRequest{Job: "import", Marketplace: "amazon", Note: "ab", Scopes: []string{}})
	require.Error(t, err)
	details, ok := ValidationDetails(err)
	require.True(t, ok)
	require.Len(t, details, 2)
	assert.Equal(t, "Must be at least 3 characters", details[0].Message)
	assert.Equal(t, "Must contain at least 1 items", details[1].Message)

	err = v.Struct(triggerRequest{Job: "import", Marketplace: "amazon", Note: "too long", Scopes: []string{"admin"}})
	details, _ = ValidationDetails(err)
	require.Len(t, details, 1)
	assert.Equal(t, "Must be at most 5 characters", details[0].Message)
}

func TestValidationDetails_OtherErrors(t *testing.T) {
	details, ok := ValidationDetails(errors.New("invalid character 'n' looking for beginning of object key string"))
	assert.False(t, ok)
	assert.Nil(t, details)
}
