package document

import (
	"sort"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/schema"
)

// Zones returns the zone-category annotations sorted by start offset.
func (d *AnnotatedDoc) Zones() []*Annotation {
	var zones []*Annotation
	for _, label := range d.labelOrder {
		t := d.types[label]
		if t.Category() != schema.ZoneCategory || !t.HasSpan() {
			continue
		}
		zones = append(zones, d.byLabel[label]...)
	}
	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].start != zones[j].start {
			return zones[i].start < zones[j].start
		}
		return zones[i].end < zones[j].end
	})
	return zones
}

// SynthesizeUntaggables discards existing untaggable annotations and, if
// the document has zones, regenerates one for every stretch of signal no
// zone covers. Documents without zones get none.
func (d *AnnotatedDoc) SynthesizeUntaggables() error {
	if existing := d.byLabel[schema.UntaggableLabel]; len(existing) > 0 {
		if err := d.RemoveAnnotationGroup(existing, nil); err != nil {
			return err
		}
	}
	zones := d.Zones()
	if len(zones) == 0 {
		return nil
	}
	t, err := d.localType(schema.UntaggableLabel, true, false)
	if err != nil {
		return err
	}
	cursor := 0
	for _, z := range zones {
		if z.start > cursor {
			d.newAnnotation(t, cursor, z.start)
		}
		if z.end > cursor {
			cursor = z.end
		}
	}
	if cursor < len(d.runes) {
		d.newAnnotation(t, cursor, len(d.runes))
	}
	return nil
}
