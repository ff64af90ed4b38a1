package detect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelimiter_CommaWins(t *testing.T) {
	input := "name,amount,dept\nacme,10,sales\nbeta,20,ops\n"
	assert.Equal(t, ',', Delimiter(strings.NewReader(input)))
}

func TestDelimiter_SemicolonWins(t *testing.T) {
	input := "name;amount;dept\nacme;10;sales\n"
	assert.Equal(t, ';', Delimiter(strings.NewReader(input)))
}

func TestDelimiter_TabWins(t *testing.T) {
	input := "name\tamount\tdept\nacme\t10\tsales\n"
	assert.Equal(t, '\t', Delimiter(strings.NewReader(input)))
}

func TestDelimiter_PipeWins(t *testing.T) {
	input := "name|amount|dept\nacme|10|sales\n"
	assert.Equal(t, '|', Delimiter(strings.NewReader(input)))
}

func TestDelimiter_MajorityAcrossSample(t *testing.T) {
	// Nine commas against two semicolons over the sample.
	input := "a,b,c,d\n1,2,3,4\nx,y;z\n5;6\n"
	assert.Equal(t, ',', Delimiter(strings.NewReader(input)))
}

func TestDelimiter_TieFallsBackToComma(t *testing.T) {
	input := "a,b;c\n1,2;3\n"
	assert.Equal(t, ',', Delimiter(strings.NewReader(input)))
}

func TestDelimiter_NoCandidateFallsBackToComma(t *testing.T) {
	input := "justoneword\nanother\n"
	assert.Equal(t, ',', Delimiter(strings.NewReader(input)))
}

func TestDelimiter_EmptyInputFallsBackToComma(t *testing.T) {
	assert.Equal(t, ',', Delimiter(strings.NewReader("")))
}

func TestDelimiter_SkipsBlankLines(t *testing.T) {
	input := "\n\n\na;b;c\n1;2;3\n"
	assert.Equal(t, ';', Delimiter(strings.NewReader(input)))
}

func TestDelimiter_OnlySamplesFirstFiveLines(t *testing.T) {
	// Semicolons dominate the first five lines; the comma flood after the
	// sample window must not be seen.
	lines := []string{
		"a;b;c", "1;2;3", "4;5;6", "7;8;9", "x;y;z",
		"q,w,e,r,t,y,u,i,o,p,a,s,d,f,g",
	}
	input := strings.Join(lines, "\n")
	assert.Equal(t, ';', Delimiter(strings.NewReader(input)))
}

func TestHeader_TrimsWhitespace(t *testing.T) {
	headers, err := Header(strings.NewReader(" name , amount ,dept\n"), ',')
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "amount", "dept"}, headers)
}

func TestHeader_SemicolonDelimited(t *testing.T) {
	headers, err := Header(strings.NewReader("name;amount;dept\n"), ';')
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "amount", "dept"}, headers)
}

func TestFile_ReturnsDelimiterAndHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.csv")
	content := "company_code;amount;department\nACME;10,50;Sales\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	delim, headers := File(path)
	assert.Equal(t, ';', delim)
	assert.Equal(t, []string{"company_code", "amount", "department"}, headers)
}

func TestFile_MissingFileFallsBack(t *testing.T) {
	delim, headers := File(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Equal(t, DefaultDelimiter, delim)
	assert.Nil(t, headers)
}

func TestFile_EmptyFileHasNoHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	delim, headers := File(path)
	assert.Equal(t, DefaultDelimiter, delim)
	assert.Nil(t, headers)
}
