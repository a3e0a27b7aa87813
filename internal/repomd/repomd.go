// Package repomd implements a streaming decoder for the rpm-md family of
// XML documents: repomd.xml (the repository index) and primary.xml (the
// package catalog). See spec §4.2, §6.
package repomd

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/rpmqd/rpmqd"
)

// DataEntry is one `<data>` child of repomd.xml.
type DataEntry struct {
	Type     string `xml:"type,attr"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
	Checksum struct {
		Type  string `xml:"type,attr"`
		Value string `xml:",chardata"`
	} `xml:"checksum"`
	OpenChecksum struct {
		Type  string `xml:"type,attr"`
		Value string `xml:",chardata"`
	} `xml:"open-checksum"`
}

// repoMD is the root element of repomd.xml.
type repoMD struct {
	XMLName xml.Name    `xml:"repomd"`
	Data    []DataEntry `xml:"data"`
}

// ParseRepoMD decodes a repomd.xml document and returns its `<data>`
// entries. The caller selects the entry whose Type is "primary".
func ParseRepoMD(r io.Reader) ([]DataEntry, error) {
	var root repoMD
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrParse, "repomd.ParseRepoMD", err)
	}
	return root.Data, nil
}

// Primary returns the "primary" entry from a parsed repomd.xml data set, or
// a NotFound error if none is present.
func Primary(entries []DataEntry) (DataEntry, error) {
	for _, e := range entries {
		if e.Type == "primary" {
			return e, nil
		}
	}
	return DataEntry{}, rpmqd.Newf(rpmqd.ErrNotFound, "repomd.Primary", "no data entry of type %q", "primary")
}

// RawRelation is one `<rpm:entry>` child of a requires/provides list.
type RawRelation struct {
	Name    string `xml:"name,attr"`
	Flags   string `xml:"flags,attr"`
	Epoch   string `xml:"epoch,attr"`
	Version string `xml:"ver,attr"`
	Release string `xml:"rel,attr"`
}

// RawPackage is one `<package>` element of primary.xml, decoded without any
// normalization beyond what encoding/xml itself performs.
type RawPackage struct {
	Type string `xml:"type,attr"`
	Name string `xml:"name"`
	Arch string `xml:"arch"`
	Version struct {
		Epoch   string `xml:"epoch,attr"`
		Version string `xml:"ver,attr"`
		Release string `xml:"rel,attr"`
	} `xml:"version"`
	Summary     string `xml:"summary"`
	Description string `xml:"description"`
	Format      struct {
		Requires struct {
			Entry []RawRelation `xml:"entry"`
		} `xml:"requires"`
		Provides struct {
			Entry []RawRelation `xml:"entry"`
		} `xml:"provides"`
	} `xml:"format"`
}

// metadata is the root element of primary.xml. PackageCount is read but not
// enforced; it exists for diagnostics, not as a parse precondition, since
// the catalog is consumed as a stream rather than materialized.
type metadata struct {
	XMLName      xml.Name `xml:"metadata"`
	PackageCount int      `xml:"packages,attr"`
}

// ParseError describes a primary.xml record that failed to decode, naming
// the offending package when a name was already available.
type ParseError struct {
	Package string
	Inner   error
}

func (e *ParseError) Error() string {
	if e.Package == "" {
		return fmt.Sprintf("repomd: malformed package record: %v", e.Inner)
	}
	return fmt.Sprintf("repomd: malformed package record %q: %v", e.Package, e.Inner)
}

func (e *ParseError) Unwrap() error { return e.Inner }

// PackageSeq is a lazily-produced sequence of raw package records paired
// with a per-record error. A non-nil error terminates the sequence after
// being yielded once; callers should stop ranging on the first error.
type PackageSeq func(yield func(RawPackage, error) bool)

// ParsePrimary streams primary.xml and returns a lazy sequence of raw
// package records. Peak memory is bounded by a single package record plus
// fixed decoder state: the full catalog is never materialized by this
// function (callers that want a materialized slice may drain the sequence
// themselves).
func ParsePrimary(r io.Reader) PackageSeq {
	dec := xml.NewDecoder(r)
	return func(yield func(RawPackage, error) bool) {
		// Consume the opening <metadata> element so namespace prefixes are
		// registered before the first <package> is decoded.
		for {
			tok, err := dec.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(RawPackage{}, &ParseError{Inner: err})
				return
			}
			if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "metadata" {
				break
			}
		}

		for {
			tok, err := dec.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(RawPackage{}, &ParseError{Inner: err})
				return
			}
			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != "package" {
				continue
			}

			var raw RawPackage
			if err := dec.DecodeElement(&raw, &se); err != nil {
				yield(RawPackage{}, &ParseError{Inner: err})
				return
			}
			if raw.Name == "" {
				yield(RawPackage{}, &ParseError{Inner: fmt.Errorf("missing required \"name\" attribute")})
				return
			}
			if raw.Arch == "" {
				yield(RawPackage{}, &ParseError{Package: raw.Name, Inner: fmt.Errorf("missing required \"arch\" attribute")})
				return
			}
			if !yield(raw, nil) {
				return
			}
		}
	}
}
