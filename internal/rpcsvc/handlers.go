package rpcsvc

import (
	"context"
	"fmt"

	"github.com/zonemaster/zmbroker/internal/fingerprint"
	"github.com/zonemaster/zmbroker/internal/store"
	"github.com/zonemaster/zmbroker/internal/zmb"
)

// versionInfo handles the version_info method.
func (svc *Service) versionInfo(_ context.Context, _ *callInfo) (result any, err error) {
	return map[string]string{
		"zonemaster_backend": zmb.Version(),
		"zonemaster_engine":  zmb.EngineVersion(),
	}, nil
}

// profileNames handles the profile_names method.
func (svc *Service) profileNames(_ context.Context, _ *callInfo) (result any, err error) {
	return svc.profiles.Names(), nil
}

// getLanguageTags handles the get_language_tags method.
func (svc *Service) getLanguageTags(_ context.Context, _ *callInfo) (result any, err error) {
	return svc.locales.Tags(), nil
}

// noAddrFound is the placeholder address returned by get_host_by_name when
// the hostname has no address records.
const noAddrFound = "0.0.0.0"

// getHostByName handles the get_host_by_name method.  The result is one
// object per discovered address, keyed by the queried hostname.
func (svc *Service) getHostByName(ctx context.Context, ci *callInfo) (result any, err error) {
	hostname, probs := svc.validator.GetHostByName(ci.params)
	if probs != nil {
		return nil, invalidParams(probs)
	}

	addrs, err := svc.lookuper.HostByName(ctx, hostname)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", hostname, err)
	}

	if len(addrs) == 0 {
		addrs = []string{noAddrFound}
	}

	entries := make([]map[string]string, 0, len(addrs))
	for _, addr := range addrs {
		entries = append(entries, map[string]string{hostname: addr})
	}

	return entries, nil
}

// getDataFromParentZone handles the get_data_from_parent_zone method.
func (svc *Service) getDataFromParentZone(
	ctx context.Context,
	ci *callInfo,
) (result any, err error) {
	domain, probs := svc.validator.GetDataFromParentZone(ci.params)
	if probs != nil {
		return nil, invalidParams(probs)
	}

	zd, err := svc.lookuper.ParentZoneData(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("parent zone of %q: %w", domain, err)
	}

	nsList := zd.NSList
	if nsList == nil {
		nsList = []*zmb.Nameserver{}
	}

	dsList := zd.DSList
	if dsList == nil {
		dsList = []*zmb.DSInfo{}
	}

	return map[string]any{
		"ns_list": nsList,
		"ds_list": dsList,
	}, nil
}

// startDomainTest handles the start_domain_test method.
func (svc *Service) startDomainTest(ctx context.Context, ci *callInfo) (result any, err error) {
	req, probs := svc.validator.StartDomainTest(ci.params)
	if probs != nil {
		return nil, invalidParams(probs)
	}

	fp, err := fingerprint.New(req.Params)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting params: %w", err)
	}

	id, err := svc.store.CreateTest(ctx, &store.CreateTestRequest{
		Params:      req.Params,
		Fingerprint: fp,
		ReuseWindow: svc.reuseWindow,
		Priority:    req.Priority,
		Queue:       svc.effectiveQueue(req.Queue),
	})
	if err != nil {
		return nil, fmt.Errorf("creating test: %w", err)
	}

	return id, nil
}

// testProgress handles the test_progress method.
func (svc *Service) testProgress(ctx context.Context, ci *callInfo) (result any, err error) {
	id, probs := svc.validator.TestID(ci.params)
	if probs != nil {
		return nil, invalidParams(probs)
	}

	t, err := svc.store.ReadTest(ctx, id)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return t.Progress, nil
}

// getTestParams handles the get_test_params method.  The returned params are
// the normalized form as stored, not the raw submission.
func (svc *Service) getTestParams(ctx context.Context, ci *callInfo) (result any, err error) {
	id, probs := svc.validator.TestID(ci.params)
	if probs != nil {
		return nil, invalidParams(probs)
	}

	t, err := svc.store.ReadTest(ctx, id)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return t.Params, nil
}

// getTestResults handles the get_test_results method.
func (svc *Service) getTestResults(ctx context.Context, ci *callInfo) (result any, err error) {
	req, probs := svc.validator.GetTestResults(ci.params)
	if probs != nil {
		return nil, invalidParams(probs)
	}

	t, err := svc.store.ReadTest(ctx, req.ID)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	locale, _ := svc.locales.Resolve(req.Language)

	// Results become visible only at full progress.  Agents store results
	// before the final progress update lands, so an unfinished test may
	// already have entries on disk.
	results := []*resultLine{}
	if t.Finished() {
		results = svc.renderResults(t.Results, locale)
	}

	return map[string]any{
		"creation_time": t.CreatedAt.Format(timeLayout),
		"id":            t.SeqID,
		"hash_id":       t.ID,
		"params":        t.Params,
		"results":       results,
	}, nil
}

// getTestHistory handles the get_test_history method.
func (svc *Service) getTestHistory(ctx context.Context, ci *callInfo) (result any, err error) {
	req, probs := svc.validator.GetTestHistory(ci.params)
	if probs != nil {
		return nil, invalidParams(probs)
	}

	entries, err := svc.store.History(ctx, &store.HistoryRequest{
		Domain: req.Domain,
		Filter: req.Filter,
		Offset: req.Offset,
		Limit:  req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	lines := make([]map[string]any, 0, len(entries))
	for _, ent := range entries {
		lines = append(lines, map[string]any{
			"id":             ent.ID,
			"creation_time":  ent.CreatedAt.Format(timeLayout),
			"overall_result": ent.Overall,
			"undelegated":    ent.Undelegated,
		})
	}

	return lines, nil
}

// addAPIUser handles the add_api_user method.  The loopback check has already
// been made by the dispatcher.
func (svc *Service) addAPIUser(ctx context.Context, ci *callInfo) (result any, err error) {
	u, probs := svc.validator.AddAPIUser(ci.params)
	if probs != nil {
		return nil, invalidParams(probs)
	}

	added, err := svc.store.AddUser(ctx, u)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return added, nil
}

// addBatchJob handles the add_batch_job method.
func (svc *Service) addBatchJob(ctx context.Context, ci *callInfo) (result any, err error) {
	req, probs := svc.validator.AddBatchJob(ci.params)
	if probs != nil {
		return nil, invalidParams(probs)
	}

	batchID, err := svc.store.CreateBatch(ctx, &store.CreateBatchRequest{
		Params:   req.Params,
		Username: req.Username,
		APIKey:   req.APIKey,
		Domains:  req.Domains,
		Priority: req.Priority,
		Queue:    svc.effectiveQueue(req.Queue),
	})
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return batchID, nil
}

// getBatchJobResult handles the get_batch_job_result method.
func (svc *Service) getBatchJobResult(ctx context.Context, ci *callInfo) (result any, err error) {
	batchID, probs := svc.validator.GetBatchJobResult(ci.params)
	if probs != nil {
		return nil, invalidParams(probs)
	}

	st, err := svc.store.BatchStatus(ctx, batchID)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	finished := st.FinishedTestIDs
	if finished == nil {
		finished = []zmb.TestID{}
	}

	return map[string]any{
		"nb_finished":       st.NumFinished,
		"nb_running":        st.NumRunning,
		"finished_test_ids": finished,
	}, nil
}
