// Package enrich fills missing certified attributes on silver systems from
// the AHRI directory. Enrichment is strictly additive: a field the catalog
// already stated is never overwritten, and a failed lookup leaves the
// system exactly as it was.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/model"
	"github.com/keystone-supply/catalog-etl/pkg/ahri"
)

// indoorPriority orders component types when picking the indoor model for a
// registry search.
var indoorPriority = []string{
	model.ComponentIDU,
	model.ComponentCoil,
	model.ComponentAirHandler,
	model.ComponentFurnace,
}

// Enricher resolves missing system attributes against the directory.
type Enricher struct {
	registry  ahri.Client
	threshold float64
}

// New creates an Enricher. threshold is the minimum fuzzy-match similarity
// for accepting a certificate.
func New(registry ahri.Client, threshold float64) *Enricher {
	return &Enricher{registry: registry, threshold: threshold}
}

// NeedsEnrichment reports whether a system is missing any of the critical
// certified fields. Systems without attributes are standalone components
// and never enriched.
func NeedsEnrichment(sys *model.System) bool {
	attrs := sys.Attributes
	if attrs == nil {
		return false
	}
	return attrs.AHRINumber == nil ||
		attrs.Tonnage == nil ||
		attrs.SEER2 == nil ||
		attrs.TotalPrice == nil
}

// EnrichSystems resolves every system that needs enrichment and returns the
// updated slice plus the number of systems that no longer need it. Per
// system failures are non-fatal; the system passes through unenriched.
func (e *Enricher) EnrichSystems(ctx context.Context, systems []model.System) ([]model.System, int) {
	var flagged int
	for i := range systems {
		if NeedsEnrichment(&systems[i]) {
			flagged++
		}
	}

	zap.L().Info("enrichment starting",
		zap.Int("systems", len(systems)),
		zap.Int("flagged", flagged),
	)
	if flagged == 0 {
		return systems, 0
	}

	out := make([]model.System, len(systems))
	copy(out, systems)

	enriched := 0
	for i := range out {
		if !NeedsEnrichment(&out[i]) {
			continue
		}
		e.enrichSystem(ctx, &out[i])
		if !NeedsEnrichment(&out[i]) {
			enriched++
		}
	}

	zap.L().Info("enrichment complete",
		zap.Int("flagged", flagged),
		zap.Int("resolved", enriched),
	)
	return out, enriched
}

func (e *Enricher) enrichSystem(ctx context.Context, sys *model.System) {
	log := zap.L().With(zap.String("system_id", sys.SystemID))

	outdoorModel := componentModel(sys, model.ComponentODU)
	if outdoorModel == "" {
		log.Warn("no outdoor unit, cannot enrich")
		return
	}
	indoorModel := indoorUnitModel(sys)

	cert, err := e.resolve(ctx, sys, outdoorModel, indoorModel)
	if err != nil {
		log.Warn("no certificate found",
			zap.String("outdoor_model", outdoorModel),
			zap.String("indoor_model", indoorModel),
			zap.Error(err),
		)
		return
	}

	filled := mergeCertificate(sys, cert)
	if len(filled) > 0 {
		log.Info("certificate merged",
			zap.String("ahri_ref", cert.AHRIRef),
			zap.Strings("filled", filled),
		)
	} else {
		log.Info("certificate held no new fields", zap.String("ahri_ref", cert.AHRIRef))
	}
}

// resolve finds the certificate for a system. A known reference number is
// fetched directly; otherwise the combined outdoor+indoor search runs
// first, falling back to the broader outdoor-only search.
func (e *Enricher) resolve(ctx context.Context, sys *model.System, outdoorModel, indoorModel string) (*ahri.Certificate, error) {
	attrs := sys.Attributes

	if attrs.AHRINumber != nil && *attrs.AHRINumber != "" {
		return e.registry.SearchByRef(ctx, *attrs.AHRINumber)
	}

	systemType := model.SystemTypeAC
	if attrs.SystemType != nil && *attrs.SystemType != "" {
		systemType = *attrs.SystemType
	}

	if indoorModel != "" {
		resultsPath, err := e.registry.SearchByModels(ctx, outdoorModel, indoorModel, systemType)
		if err == nil {
			cert, merr := ahri.MatchIndoorUnit(outdoorModel, indoorModel, resultsPath, e.threshold)
			if merr == nil {
				return cert, nil
			}
			zap.L().Debug("combined search match failed", zap.Error(merr))
		} else {
			zap.L().Debug("combined search failed", zap.Error(err))
		}
	}

	resultsPath, err := e.registry.SearchByOutdoorModel(ctx, outdoorModel)
	if err != nil {
		return nil, err
	}
	return ahri.MatchIndoorUnit(outdoorModel, indoorModel, resultsPath, e.threshold)
}

// mergeCertificate fills null attribute fields from a certificate and
// appends an audit note naming exactly what was filled. Non-null fields are
// never touched.
func mergeCertificate(sys *model.System, cert *ahri.Certificate) []string {
	if sys.Attributes == nil {
		return nil
	}

	// Work on a copy so the input slice the caller handed over is not
	// mutated through the shared pointer.
	attrsCopy := *sys.Attributes
	attrs := &attrsCopy

	var filled []string

	if attrs.AHRINumber == nil && cert.AHRIRef != "" {
		ref := cert.AHRIRef
		attrs.AHRINumber = &ref
		filled = append(filled, "ahri_number")
	}
	if attrs.SEER2 == nil && cert.SEER2 != nil {
		v := *cert.SEER2
		attrs.SEER2 = &v
		filled = append(filled, "seer2")
	}
	if attrs.EER2 == nil && cert.EER2 != nil {
		v := *cert.EER2
		attrs.EER2 = &v
		filled = append(filled, "eer2")
	}
	if attrs.HSPF2 == nil && cert.HSPF2 != nil {
		v := *cert.HSPF2
		attrs.HSPF2 = &v
		filled = append(filled, "hspf2")
	}
	if attrs.CapacityBTU == nil && cert.Capacity != nil {
		v := *cert.Capacity
		attrs.CapacityBTU = &v
		filled = append(filled, "capacity_btu")
	}
	if attrs.Tonnage == nil && cert.Tonnage != nil {
		v := *cert.Tonnage
		attrs.Tonnage = &v
		filled = append(filled, "tonnage")
	}

	if len(filled) > 0 {
		sys.Attributes = attrs

		var meta model.Metadata
		if sys.Metadata != nil {
			meta = *sys.Metadata
		}
		meta.Notes = append(meta.Notes,
			fmt.Sprintf("AHRI enrichment: Added %s from AHRI certificate %s",
				strings.Join(filled, ", "), cert.AHRIRef))
		sys.Metadata = &meta
	}
	return filled
}

// componentModel returns the model number of the first component with the
// given type, upper-cased for registry searches.
func componentModel(sys *model.System, componentType string) string {
	for i := range sys.Components {
		if sys.Components[i].ComponentType == componentType && sys.Components[i].ModelNumber != "" {
			return strings.ToUpper(strings.TrimSpace(sys.Components[i].ModelNumber))
		}
	}
	return ""
}

func indoorUnitModel(sys *model.System) string {
	for _, componentType := range indoorPriority {
		if m := componentModel(sys, componentType); m != "" {
			return m
		}
	}
	return ""
}
