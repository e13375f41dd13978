package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPublic(t *testing.T) {
	c := NewClassifier(false)
	res := c.Classify("What is the capital of France?")
	assert.Equal(t, LevelPublic, res.Level)
	assert.False(t, res.ShouldStayLocal)
	assert.Empty(t, res.Categories)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
}

func TestClassifySSNIsConfidential(t *testing.T) {
	c := NewClassifier(false)
	res := c.Classify("My SSN is 123-45-6789")
	assert.Equal(t, LevelConfidential, res.Level)
	assert.True(t, res.ShouldStayLocal)
	assert.Contains(t, res.Categories, "government_id")
}

func TestClassifyFinancialIsPrivate(t *testing.T) {
	c := NewClassifier(false)
	res := c.Classify("check my bank account balance")
	assert.Equal(t, LevelPrivate, res.Level)
	assert.True(t, res.ShouldStayLocal)
}

func TestClassifyHighestLevelWins(t *testing.T) {
	c := NewClassifier(false)
	res := c.Classify("email me at a@b.com my password reset link")
	assert.Equal(t, LevelConfidential, res.Level)
	assert.Contains(t, res.Categories, "credentials")
	assert.Contains(t, res.Categories, "contact_info")
}

func TestClassifyStrictModePinsSensitive(t *testing.T) {
	query := "what is my phone number"
	assert.False(t, NewClassifier(false).Classify(query).ShouldStayLocal)
	assert.True(t, NewClassifier(true).Classify(query).ShouldStayLocal)
}

func TestClassifyConfidenceCaps(t *testing.T) {
	c := NewClassifier(false)
	res := c.Classify("password password password password password password")
	assert.Equal(t, 0.95, res.Confidence)
}
