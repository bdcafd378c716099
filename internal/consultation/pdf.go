package consultation

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PrescriptionDoc is everything printed on a prescription PDF.
type PrescriptionDoc struct {
	Serial             string
	IssuedOn           string
	ProviderName       string
	Specialization     string
	RegistrationNumber string
	RequesterName      string
	Diagnosis          string
	Medications        []Medication
	Instructions       string
}

// SerialLabel formats a provider-scoped serial for display and file names.
func SerialLabel(serial int64) string {
	return fmt.Sprintf("RX-%06d", serial)
}

func RenderPrescription(doc PrescriptionDoc) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(12, 12, 12)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 16)
	pdf.SetTextColor(20, 60, 120)
	pdf.CellFormat(0, 10, "Mediquory Connect", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 6, tr("Dr. "+doc.ProviderName), "", 1, "C", false, 0, "")
	if doc.Specialization != "" {
		pdf.CellFormat(0, 5, tr(doc.Specialization), "", 1, "C", false, 0, "")
	}
	if doc.RegistrationNumber != "" {
		pdf.CellFormat(0, 5, tr("Reg. No. "+doc.RegistrationNumber), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 10, "Prescription", "1", 1, "C", false, 0, "")

	addDetail(pdf, "Serial", doc.Serial)
	addDetail(pdf, "Date", doc.IssuedOn)
	addDetail(pdf, "Patient", tr(doc.RequesterName))
	addDetail(pdf, "Diagnosis", tr(doc.Diagnosis))
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 11)
	pdf.SetFillColor(230, 236, 245)
	widths := []float64{60, 40, 45, 41}
	for i, h := range []string{"Medication", "Dosage", "Frequency", "Duration"} {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	if len(doc.Medications) == 0 {
		pdf.CellFormat(0, 8, "None", "1", 1, "L", false, 0, "")
	}
	for _, m := range doc.Medications {
		for i, v := range []string{m.Name, m.Dosage, m.Frequency, m.Duration} {
			pdf.CellFormat(widths[i], 8, tr(v), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if doc.Instructions != "" {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 8, "Instructions", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 5, tr(doc.Instructions), "", "L", false)
	}

	pdf.SetY(pdf.GetY() + 12)
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 6, "This is a computer generated prescription", "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render prescription pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func addDetail(pdf *gofpdf.Fpdf, label, value string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 8, label, "1", 0, "", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 8, value, "1", 1, "", false, 0, "")
}
