// Package certificate renders retirement certificates as PDF documents.
package certificate

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/carbon-marketplace/internal/models"
)

// Certificate holds the fields printed on a retirement certificate
type Certificate struct {
	RetirementID       string
	RetiredAt          time.Time
	Credits            int64
	BeneficiaryAddress string
	BeneficiaryName    string
	ProjectName        string
	TxHash             string
	Description        string
}

// FromRetirement builds a certificate from a retirement record
func FromRetirement(r *models.Retirement) Certificate {
	c := Certificate{
		RetirementID:       r.ID,
		RetiredAt:          r.UpdatedAt,
		Credits:            r.Credits,
		BeneficiaryAddress: r.BeneficiaryAddress,
		BeneficiaryName:    r.BeneficiaryName,
		ProjectName:        r.ProjectName,
		Description:        r.Description,
	}
	if r.TxHash != nil {
		c.TxHash = *r.TxHash
	}
	return c
}

// Filename is the suggested download name
func (c Certificate) Filename() string {
	return fmt.Sprintf("retirement-certificate-%s.pdf", c.RetirementID)
}

// Render writes the certificate PDF to w
func Render(w io.Writer, c Certificate) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Carbon Credit Retirement Certificate", true)
	pdf.SetCreator("carbon-marketplace", true)
	pdf.SetCreationDate(c.RetiredAt)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 14, "Carbon Credit Retirement Certificate", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 12)
	pdf.MultiCell(0, 6, tr(fmt.Sprintf(
		"This certifies that %d tonne(s) of CO2e carbon credits from %s have been permanently retired.",
		c.Credits, orDash(c.ProjectName))), "", "L", false)
	pdf.Ln(4)

	rows := [][2]string{
		{"Retirement date", c.RetiredAt.UTC().Format("2 January 2006 15:04 MST")},
		{"Tonnes retired", fmt.Sprintf("%d", c.Credits)},
		{"Project", orDash(c.ProjectName)},
		{"Beneficiary", orDash(c.BeneficiaryName)},
		{"Beneficiary address", orDash(c.BeneficiaryAddress)},
		{"Transaction hash", orDash(c.TxHash)},
		{"Certificate id", orDash(c.RetirementID)},
	}
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(50, 8, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Courier", "", 9)
		pdf.MultiCell(0, 8, tr(row[1]), "", "L", false)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 8, "Description", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, tr(orDash(c.Description)), "", "L", false)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to render certificate: %w", err)
	}
	return pdf.Output(w)
}

// Bytes renders the certificate into memory
func Bytes(c Certificate) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
