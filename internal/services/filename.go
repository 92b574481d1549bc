package services

import "strings"

const pdfExt = ".pdf"

// NormalizePDFName collapses any run of trailing ".pdf" suffixes to one and
// otherwise replaces the last extension with ".pdf". Matching is case-insensitive.
func NormalizePDFName(name string) string {
	for strings.HasSuffix(strings.ToLower(name), pdfExt+pdfExt) {
		name = name[:len(name)-len(pdfExt)]
	}
	if strings.HasSuffix(strings.ToLower(name), pdfExt) {
		return name
	}
	if dot := strings.LastIndex(name, "."); dot != -1 {
		name = name[:dot]
	}
	return name + pdfExt
}
