package annoconv

import (
	"log"
)

// Convert reads the dataset at inPath as format from, analyzes the conversion and writes it to
// outPath as format to. If the conversion loses information and allowLossy is false, nothing is
// written and the error wraps ErrLossyConversion. The report is returned whenever the read
// succeeded.
func Convert(from Format, inPath string, to Format, outPath string, opts Options,
		allowLossy bool) (ConversionReport, error) {
	if !from.CanRead() {
		return ConversionReport{}, &UnsupportedFormatError{Name: from.String(), Msg: "no reader"}
	}
	if !to.CanWrite() {
		return ConversionReport{}, &UnsupportedFormatError{Name: to.String(), Msg: "no writer"}
	}

	ds, err := Read(from, inPath, opts)
	if err != nil {
		return ConversionReport{}, err
	}
	log.Printf("Read %d images, %d categories and %d annotations from %q",
		len(ds.Images), len(ds.Categories), len(ds.Annotations), inPath)

	report := AnalyzeConversion(ds, from, to)
	if report.HasWarnings() {
		if !allowLossy {
			return report, report.Err()
		}
		for _, w := range report.Warnings() {
			log.Printf("Lossy conversion: %s", w.Message)
		}
	}

	if err := Write(to, outPath, ds, opts); err != nil {
		return report, err
	}
	log.Printf("Wrote %s to %q", to, outPath)
	return report, nil
}
