package resolve

import (
	"context"

	"taxonmatch/internal/logging"
)

func (r *Resolver) manualStage(ctx context.Context, pending []Submission) (stageOutput, error) {
	var out stageOutput
	if r.opts.Overrides == nil {
		return out, nil
	}
	logger := logging.WithContext(ctx, r.logger)
	missing := make(map[string]struct{})
	for _, sub := range pending {
		override, ok, err := r.opts.Overrides.Lookup(sub.Keys.Trimmed, sub.Family)
		if err != nil {
			return out, err
		}
		if !ok {
			continue
		}
		rec, found := r.index.ByID(override.ResolutionID)
		if !found {
			if _, warned := missing[override.ResolutionID]; !warned {
				missing[override.ResolutionID] = struct{}{}
				logging.WarnWithContext(logger, "manual override id not in checklist; ignored", "override_id_unknown",
					logging.String("submitted", override.Submitted),
					logging.String("resolution_id", override.ResolutionID),
					logging.String(logging.FieldErrorHint, "use a plant_name_id from the indexed checklist"),
					logging.String(logging.FieldImpact, "the submission continues through automatic matching"),
				)
			}
			continue
		}
		out.resolutions = append(out.resolutions, resolvedWith(sub.Key, rec, string(MethodManual)))
	}
	return out, nil
}
