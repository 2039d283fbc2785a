package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpeakerNames(t *testing.T) {
	names, err := parseSpeakerNames(`{"A": "Dana Reyes", "B": "Attorney"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "Dana Reyes", "B": "Attorney"}, names)
}

func TestParseSpeakerNamesFencedResponse(t *testing.T) {
	raw := "```json\n{\"A\": \"Dana Reyes\"}\n```"
	names, err := parseSpeakerNames(raw)
	require.NoError(t, err)
	assert.Equal(t, "Dana Reyes", names["A"])
}

func TestParseSpeakerNamesRejectsNonFlatObjects(t *testing.T) {
	_, err := parseSpeakerNames(`{"A": {"name": "Dana"}}`)
	assert.Error(t, err)

	_, err = parseSpeakerNames(`["A", "B"]`)
	assert.Error(t, err)

	_, err = parseSpeakerNames(`Sure! Here is the mapping: {"A": "Dana"}`)
	assert.Error(t, err)
}

func TestParseSpeakerNamesDropsEmptyEntries(t *testing.T) {
	names, err := parseSpeakerNames(`{"A": "Dana", "B": "  "}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "Dana"}, names)

	_, err = parseSpeakerNames(`{"A": ""}`)
	assert.Error(t, err, "all-empty mapping is rejected wholesale")
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"A":"x"}`, stripCodeFence("```json\n{\"A\":\"x\"}\n```"))
	assert.Equal(t, `{"A":"x"}`, stripCodeFence("```\n{\"A\":\"x\"}\n```"))
	assert.Equal(t, `{"A":"x"}`, stripCodeFence(`{"A":"x"}`))
}
