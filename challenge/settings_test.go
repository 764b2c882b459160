package challenge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, DifficultyMedium, s.Difficulty)
	assert.Equal(t, 10000, s.DatasetSize)
	assert.Equal(t, StructureNormalized, s.DataStructure)
	assert.Empty(t, s.Domain)
	assert.Empty(t, s.Function)
}

func TestDifficulty_Profile(t *testing.T) {
	tests := []struct {
		difficulty Difficulty
		want       Profile
	}{
		{DifficultyEasy, Profile{Rows: 5000, Tables: 5, Columns: 15, Questions: 5}},
		{DifficultyMedium, Profile{Rows: 10000, Tables: 8, Columns: 22, Questions: 6}},
		{DifficultyDifficult, Profile{Rows: 20000, Tables: 12, Columns: 30, Questions: 7}},
		{Difficulty("Impossible"), Profile{Rows: 10000, Tables: 8, Columns: 22, Questions: 6}},
	}
	for _, tt := range tests {
		t.Run(string(tt.difficulty), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.difficulty.Profile())
		})
	}
}

func TestSetDifficultyOverwritesDatasetSize(t *testing.T) {
	s := DefaultSettings()
	s.DatasetSize = 42000

	s.SetDifficulty(DifficultyEasy)
	assert.Equal(t, 5000, s.DatasetSize)

	s.DatasetSize = 7777
	s.SetDifficulty(DifficultyDifficult)
	assert.Equal(t, 20000, s.DatasetSize)
}

func TestParseDifficulty(t *testing.T) {
	d, err := ParseDifficulty(" easy ")
	require.NoError(t, err)
	assert.Equal(t, DifficultyEasy, d)

	_, err = ParseDifficulty("hard")
	assert.Error(t, err)
}

func TestEffectiveValues(t *testing.T) {
	s := DefaultSettings()
	s.Domain = OtherOption
	s.CustomDomain = "  Space Mining "
	s.Function = "Operations"
	s.CustomFunction = "ignored"

	assert.Equal(t, "Space Mining", s.EffectiveDomain())
	assert.Equal(t, "Operations", s.EffectiveFunction())
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Settings)
		wantField string
	}{
		{
			name: "valid",
			mutate: func(s *Settings) {
				s.Domain = "Healthcare"
				s.Function = "Operations"
			},
		},
		{
			name: "domain too short",
			mutate: func(s *Settings) {
				s.Domain = "HR"
				s.Function = "Operations"
			},
			wantField: "domain",
		},
		{
			name: "other without custom text",
			mutate: func(s *Settings) {
				s.Domain = "Retail"
				s.Function = OtherOption
				s.CustomFunction = "ab"
			},
			wantField: "function",
		},
		{
			name: "short context",
			mutate: func(s *Settings) {
				s.Domain = "Retail"
				s.Function = "Finance"
				s.Context = "too short"
			},
			wantField: "context",
		},
		{
			name: "dataset too small",
			mutate: func(s *Settings) {
				s.Domain = "Retail"
				s.Function = "Finance"
				s.DatasetSize = 10
			},
			wantField: "dataset_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			var fields []string
			ve := err.(*ValidationError)
			for _, f := range ve.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestInputUsesDefaultBrief(t *testing.T) {
	s := DefaultSettings()
	s.Domain = "Healthcare"
	s.Function = "Operations"

	in, err := s.Input()
	require.NoError(t, err)
	assert.Equal(t, "Healthcare", in.Domain)
	assert.True(t, strings.Contains(in.ProblemStatement, "Healthcare domain"))
	assert.GreaterOrEqual(t, len(in.ProblemStatement), 100)
	assert.Equal(t, 10000, in.DatasetSize)
}

func TestOptionListsEndWithOther(t *testing.T) {
	for _, opts := range [][]string{Domains(), Functions()} {
		require.NotEmpty(t, opts)
		assert.Equal(t, OtherOption, opts[len(opts)-1])
		for _, o := range opts[:len(opts)-1] {
			s := Settings{Domain: o, Function: o, Difficulty: DifficultyEasy, DatasetSize: 5000, DataStructure: StructureNormalized}
			assert.NoError(t, s.Validate(), o)
		}
	}
}
