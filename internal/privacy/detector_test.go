package privacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memcortex/fabric/internal/types"
)

func TestDetectCases(t *testing.T) {
	cases := []struct {
		name    string
		content string
		tags    []string
		want    types.PrivacyLevel
	}{
		{
			name:    "openai key",
			content: "This is my OpenAI API key: sk-" + strings.Repeat("a", 40),
			want:    types.PrivacyLocalOnly,
		},
		{
			name:    "investment portfolio",
			content: "My investment portfolio has $50,000 in stocks",
			tags:    []string{"financial"},
			want:    types.PrivacyConfidential,
		},
		{
			name:    "python tutorial",
			content: "# Python Tutorial\n\n## Introduction\n\nThis is how to use Python...",
			tags:    []string{"tutorial"},
			want:    types.PrivacyPublic,
		},
		{
			name:    "chatgpt conversation",
			content: "Had a great conversation with ChatGPT today about coding",
			tags:    []string{"chatgpt", "conversation"},
			want:    types.PrivacyInternal,
		},
		{
			name:    "password assignment",
			content: "password=mysecretpass123",
			want:    types.PrivacyLocalOnly,
		},
		{
			name:    "phase note",
			content: "Just learned about Docker containers in my Phase 3 work",
			tags:    []string{"phase-3"},
			want:    types.PrivacyInternal,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Detect(tc.content, tc.tags, types.PrivacyInternal)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDetectEmptyContentReturnsDefault(t *testing.T) {
	require.Equal(t, types.PrivacyInternal, Detect("", nil, types.PrivacyInternal))
}

func TestLuhnValidCreditCardIsLocalOnly(t *testing.T) {
	// 4111 1111 1111 1111 passes Luhn (a well known test Visa number).
	got := Detect("card on file: 4111 1111 1111 1111", nil, types.PrivacyInternal)
	require.Equal(t, types.PrivacyLocalOnly, got)
}

func TestLuhnInvalidCreditCardIsNotLocalOnlyFromCardPatternAlone(t *testing.T) {
	// 16 digits that fail Luhn and match no other LOCAL_ONLY pattern.
	got := Detect("order reference 1234 5678 9012 3456", nil, types.PrivacyInternal)
	require.NotEqual(t, types.PrivacyLocalOnly, got)
}

func TestDocumentationNeedsTwoIndicatorsForPublic(t *testing.T) {
	oneIndicator := Detect("# Just a heading, nothing else", nil, types.PrivacyInternal)
	require.Equal(t, types.PrivacyInternal, oneIndicator)

	twoIndicators := Detect("# Heading\n```\ncode\n```", nil, types.PrivacyInternal)
	require.Equal(t, types.PrivacyPublic, twoIndicators)
}

func TestValidate(t *testing.T) {
	require.True(t, Validate(types.PrivacyPublic))
	require.False(t, Validate(types.PrivacyLevel("NOT_A_LEVEL")))
}
