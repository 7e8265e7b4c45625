package recipient_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/breatheroute/aqibot/internal/recipient"
)

func TestReadCSV(t *testing.T) {
	input := "NAME,EMAIL,CITY\n" +
		"Alex,a@x.com,\n" +
		"Sam,sam@example.com,Oakland\n" +
		"Kai,kai@example.com,nan\n" +
		",,\n" +
		"Jo, jo@example.com , Berkeley \n"

	recipients, err := recipient.ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, recipients, 4)

	assert.Equal(t, recipient.Recipient{Name: "Alex", Email: "a@x.com", City: "", Row: 2}, recipients[0])
	assert.Equal(t, "Oakland", recipients[1].City)
	assert.Equal(t, "", recipients[2].City, "nan is treated as blank")
	assert.Equal(t, "jo@example.com", recipients[3].Email)
	assert.Equal(t, "Berkeley", recipients[3].City)
	assert.Equal(t, 6, recipients[3].Row, "blank rows keep numbering")
}

func TestReadCSV_HeadersCaseInsensitiveAndCityOptional(t *testing.T) {
	input := "\ufeffEmail,name\nsam@example.com,Sam\n"

	recipients, err := recipient.ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "Sam", recipients[0].Name)
	assert.Equal(t, "", recipients[0].City)
}

func TestReadCSV_InputErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		row   int
		cause error
	}{
		{name: "empty", input: "", row: 0, cause: recipient.ErrMissingColumn},
		{name: "missing email column", input: "NAME,CITY\nSam,Oakland\n", row: 1, cause: recipient.ErrMissingColumn},
		{name: "missing name column", input: "EMAIL\nsam@example.com\n", row: 1, cause: recipient.ErrMissingColumn},
		{name: "invalid email", input: "NAME,EMAIL\nSam,not-an-address\n", row: 2, cause: recipient.ErrInvalidRow},
		{name: "blank email", input: "NAME,EMAIL\nSam,\n", row: 2, cause: recipient.ErrInvalidRow},
		{name: "blank name", input: "NAME,EMAIL\nok,ok@example.com\n,sam@example.com\n", row: 3, cause: recipient.ErrInvalidRow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := recipient.ReadCSV(strings.NewReader(tt.input))
			require.Error(t, err)

			var inputErr *recipient.InputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, tt.row, inputErr.Row)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]string{
		{"NAME", "EMAIL", "CITY"},
		{"Alex", "a@x.com", ""},
		{"Sam", "sam@example.com", "Oakland"},
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &row))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	recipients, err := recipient.ReadXLSX(buf)
	require.NoError(t, err)
	require.Len(t, recipients, 2)
	assert.Equal(t, "Alex", recipients[0].Name)
	assert.Equal(t, "", recipients[0].City)
	assert.Equal(t, "Oakland", recipients[1].City)
}

func TestFileSource_Load(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "Mailing-List.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("NAME,EMAIL,CITY\nAlex,a@x.com,\n"), 0o600))

	recipients, err := recipient.FileSource{Path: csvPath}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, recipients, 1)

	t.Run("missing file", func(t *testing.T) {
		_, err := recipient.FileSource{Path: filepath.Join(dir, "absent.csv")}.Load(context.Background())
		var inputErr *recipient.InputError
		require.ErrorAs(t, err, &inputErr)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := recipient.FileSource{Path: filepath.Join(dir, "list.json")}.Load(context.Background())
		assert.ErrorIs(t, err, recipient.ErrUnsupportedFormat)
	})
}

func TestRecipient_ResolveCity(t *testing.T) {
	assert.Equal(t, "San Francisco", recipient.Recipient{}.ResolveCity("San Francisco"))
	assert.Equal(t, "San Francisco", recipient.Recipient{City: "   "}.ResolveCity("San Francisco"))
	assert.Equal(t, "Oakland", recipient.Recipient{City: " Oakland "}.ResolveCity("San Francisco"))
}

func TestInputError_Error(t *testing.T) {
	err := &recipient.InputError{Path: "list.csv", Row: 4, Reason: "blank name", Err: recipient.ErrInvalidRow}
	assert.Equal(t, "recipient list list.csv row 4: blank name: invalid recipient row", err.Error())
}
