package zmbvalidate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zonemaster/zmbroker/internal/fingerprint"
	"github.com/zonemaster/zmbroker/internal/profiles"
	"github.com/zonemaster/zmbroker/internal/zmb"
)

// Scheduling defaults.
const (
	// DefaultPriority is the priority of direct submissions.
	DefaultPriority = 10

	// DefaultBatchPriority is the priority of batch-created tests.
	DefaultBatchPriority = 5

	// DefaultQueue is the queue tag used when the client does not pick one.
	DefaultQueue = 0

	// DefaultHistoryLimit is the page size of history listings.
	DefaultHistoryLimit = 200
)

// maxClientFieldLen bounds the free-form client identification fields.
const maxClientFieldLen = 50

// StartDomainTestRequest is the validated and normalized form of the
// start_domain_test parameters.
type StartDomainTestRequest struct {
	// Params is the normalized test parameter object.
	Params *zmb.TestParams

	// Language is the requested language tag, or empty.
	Language string

	// Priority orders the test within its queue.
	Priority int

	// Queue is the queue tag of the test.
	Queue int
}

// startDomainTestProps is the strict property set of start_domain_test.
var startDomainTestProps = []string{
	"domain",
	"ipv4",
	"ipv6",
	"nameservers",
	"ds_info",
	"profile",
	"client_id",
	"client_version",
	"priority",
	"queue",
	"language",
}

// StartDomainTest validates the start_domain_test params.  On success the
// returned request carries the normalized params, ready for fingerprinting.
func (v *Validator) StartDomainTest(
	raw json.RawMessage,
) (req *StartDomainTestRequest, probs []*Problem) {
	obj, probs := decodeObject(raw)
	if probs != nil {
		return nil, probs
	}

	lang, langProbs := v.checkLanguage(obj, false)
	defer func() { v.translateAll(probs, lang) }()

	probs = append(probs, checkUnknown(obj, startDomainTestProps)...)
	probs = append(probs, langProbs...)

	req = &StartDomainTestRequest{
		Params:   &zmb.TestParams{Profile: profiles.Default},
		Language: lang,
		Priority: DefaultPriority,
		Queue:    DefaultQueue,
	}

	probs = append(probs, v.fillTestParams(obj, req.Params, true)...)

	if val, ok := obj["priority"]; ok {
		n, isInt := toInt(val)
		if !isInt {
			probs = append(probs, &Problem{Path: "/priority", Message: msgBadPriority})
		} else {
			req.Priority = int(n)
		}
	}

	if val, ok := obj["queue"]; ok {
		n, isInt := toInt(val)
		if !isInt || n < 0 {
			probs = append(probs, &Problem{Path: "/queue", Message: msgBadQueue})
		} else {
			req.Queue = int(n)
		}
	}

	if len(probs) > 0 {
		return nil, probs
	}

	fingerprint.Normalize(req.Params)

	return req, nil
}

// fillTestParams validates the test parameter subset of obj into p.  When
// needDomain is true, a missing domain property is a problem; batch test
// params omit it.
func (v *Validator) fillTestParams(
	obj map[string]any,
	p *zmb.TestParams,
	needDomain bool,
) (probs []*Problem) {
	if val, ok := obj["domain"]; !ok {
		if needDomain {
			probs = append(probs, &Problem{Path: "/domain", Message: msgMissing})
		}
	} else if s, isStr := toString(val); !isStr {
		probs = append(probs, &Problem{Path: "/domain", Message: msgNotAString})
	} else if norm, msg := checkDomain(s); msg != "" {
		probs = append(probs, &Problem{Path: "/domain", Message: msg})
	} else {
		p.Domain = norm
	}

	if val, ok := obj["ipv4"]; ok {
		b := toBool(val)
		p.IPv4 = &b
	}

	if val, ok := obj["ipv6"]; ok {
		b := toBool(val)
		p.IPv6 = &b
	}

	if val, ok := obj["nameservers"]; ok && val != nil {
		nss, nsProbs := parseNameservers(val, "/nameservers")
		probs = append(probs, nsProbs...)
		p.Nameservers = nss
	}

	if val, ok := obj["ds_info"]; ok && val != nil {
		dss, dsProbs := parseDSInfo(val, "/ds_info")
		probs = append(probs, dsProbs...)
		p.DSInfo = dss
	}

	if val, ok := obj["profile"]; ok {
		s, isStr := toString(val)
		switch {
		case !isStr, !profiles.ValidName(s):
			probs = append(probs, &Problem{Path: "/profile", Message: msgBadProfile})
		case !v.profiles.Has(s):
			probs = append(probs, &Problem{Path: "/profile", Message: msgUnknownProfile})
		default:
			p.Profile = profiles.Normalize(s)
		}
	}

	for _, fld := range []struct {
		dst  *string
		name string
	}{{
		dst:  &p.ClientID,
		name: "client_id",
	}, {
		dst:  &p.ClientVersion,
		name: "client_version",
	}} {
		val, ok := obj[fld.name]
		if !ok || val == nil {
			continue
		}

		s, isStr := toString(val)
		if !isStr || len(s) > maxClientFieldLen {
			probs = append(probs, &Problem{Path: "/" + fld.name, Message: msgNotAString})
		} else {
			*fld.dst = s
		}
	}

	return probs
}

// checkLanguage validates the optional language property of obj and resolves
// it.  When required is true a missing property is a problem.  The returned
// lang is the original tag when valid, and empty otherwise.
func (v *Validator) checkLanguage(
	obj map[string]any,
	required bool,
) (lang string, probs []*Problem) {
	val, ok := obj["language"]
	if !ok || val == nil {
		if required {
			return "", []*Problem{{Path: "/language", Message: msgMissing}}
		}

		return "", nil
	}

	s, isStr := toString(val)
	if !isStr || (len(s) != 2 && len(s) != 5) {
		return "", []*Problem{{Path: "/language", Message: msgBadLanguage}}
	}

	if _, ok = v.locales.Resolve(s); !ok {
		return "", []*Problem{{Path: "/language", Message: msgBadLanguage}}
	}

	return s, nil
}

// testIDProps is the strict property set of test_progress and
// get_test_params.
var testIDProps = []string{"test_id"}

// TestID validates params that carry a single test_id property.
func (v *Validator) TestID(raw json.RawMessage) (id zmb.TestID, probs []*Problem) {
	obj, probs := decodeObject(raw)
	if probs != nil {
		return "", probs
	}

	probs = checkUnknown(obj, testIDProps)
	id, idProbs := checkTestID(obj, "test_id")
	probs = append(probs, idProbs...)

	if len(probs) > 0 {
		return "", probs
	}

	return id, nil
}

// checkTestID validates the test id under the property name prop.
func checkTestID(obj map[string]any, prop string) (id zmb.TestID, probs []*Problem) {
	val, ok := obj[prop]
	if !ok {
		return "", []*Problem{{Path: "/" + prop, Message: msgMissing}}
	}

	s, isStr := toString(val)
	if !isStr {
		return "", []*Problem{{Path: "/" + prop, Message: msgBadTestID}}
	}

	id, err := zmb.NewTestID(s)
	if err != nil {
		return "", []*Problem{{Path: "/" + prop, Message: msgBadTestID}}
	}

	return id, nil
}

// getTestResultsProps is the strict property set of get_test_results.
var getTestResultsProps = []string{"id", "language"}

// GetTestResultsRequest is the validated form of the get_test_results
// params.
type GetTestResultsRequest struct {
	// ID is the test identifier.
	ID zmb.TestID

	// Language is the requested language tag, or empty.
	Language string
}

// GetTestResults validates the get_test_results params.
func (v *Validator) GetTestResults(
	raw json.RawMessage,
) (req *GetTestResultsRequest, probs []*Problem) {
	obj, probs := decodeObject(raw)
	if probs != nil {
		return nil, probs
	}

	lang, langProbs := v.checkLanguage(obj, false)
	defer func() { v.translateAll(probs, lang) }()

	probs = append(probs, checkUnknown(obj, getTestResultsProps)...)
	probs = append(probs, langProbs...)

	id, idProbs := checkTestID(obj, "id")
	probs = append(probs, idProbs...)

	if len(probs) > 0 {
		return nil, probs
	}

	return &GetTestResultsRequest{
		ID:       id,
		Language: lang,
	}, nil
}

// getTestHistoryProps is the strict property set of get_test_history.
var getTestHistoryProps = []string{"offset", "limit", "filter", "frontend_params"}

// frontendParamsProps is the strict property set of the frontend_params
// object.
var frontendParamsProps = []string{"domain"}

// HistoryRequest is the validated form of the get_test_history params.
type HistoryRequest struct {
	// Domain is the normalized domain the history concerns.
	Domain string

	// Filter selects tests by their undelegated flag.
	Filter zmb.HistoryFilter

	// Offset is the number of entries to skip.
	Offset int

	// Limit is the maximum number of entries to return.
	Limit int
}

// GetTestHistory validates the get_test_history params.
func (v *Validator) GetTestHistory(
	raw json.RawMessage,
) (req *HistoryRequest, probs []*Problem) {
	obj, probs := decodeObject(raw)
	if probs != nil {
		return nil, probs
	}

	probs = checkUnknown(obj, getTestHistoryProps)

	req = &HistoryRequest{
		Filter: zmb.HistoryFilterAll,
		Offset: 0,
		Limit:  DefaultHistoryLimit,
	}

	if val, ok := obj["offset"]; ok {
		n, isInt := toInt(val)
		if !isInt || n < 0 {
			probs = append(probs, &Problem{Path: "/offset", Message: msgBadOffset})
		} else {
			req.Offset = int(n)
		}
	}

	if val, ok := obj["limit"]; ok {
		n, isInt := toInt(val)
		if !isInt || n < 0 {
			probs = append(probs, &Problem{Path: "/limit", Message: msgBadLimit})
		} else {
			req.Limit = int(n)
		}
	}

	if val, ok := obj["filter"]; ok {
		s, isStr := toString(val)
		f := zmb.HistoryFilter(s)
		switch {
		case !isStr:
			probs = append(probs, &Problem{Path: "/filter", Message: msgBadFilter})
		case f != zmb.HistoryFilterAll &&
			f != zmb.HistoryFilterDelegated &&
			f != zmb.HistoryFilterUndelegated:
			probs = append(probs, &Problem{Path: "/filter", Message: msgBadFilter})
		default:
			req.Filter = f
		}
	}

	fpVal, ok := obj["frontend_params"]
	if !ok {
		probs = append(probs, &Problem{Path: "/frontend_params", Message: msgMissing})
	} else if fpObj, isObj := fpVal.(map[string]any); !isObj {
		probs = append(probs, &Problem{Path: "/frontend_params", Message: msgNotAnObjectElem})
	} else {
		probs = append(probs, checkUnknownAt(fpObj, frontendParamsProps, "/frontend_params")...)

		if val, hasDomain := fpObj["domain"]; !hasDomain {
			probs = append(probs, &Problem{
				Path:    "/frontend_params/domain",
				Message: msgMissing,
			})
		} else if s, isStr := toString(val); !isStr {
			probs = append(probs, &Problem{
				Path:    "/frontend_params/domain",
				Message: msgNotAString,
			})
		} else if norm, msg := checkDomain(s); msg != "" {
			probs = append(probs, &Problem{
				Path:    "/frontend_params/domain",
				Message: msg,
			})
		} else {
			req.Domain = fingerprint.NormalizeDomain(norm)
		}
	}

	if len(probs) > 0 {
		return nil, probs
	}

	return req, nil
}

// addAPIUserProps is the strict property set of add_api_user.
var addAPIUserProps = []string{"username", "api_key"}

// AddAPIUser validates the add_api_user params.
func (v *Validator) AddAPIUser(raw json.RawMessage) (u *zmb.User, probs []*Problem) {
	obj, probs := decodeObject(raw)
	if probs != nil {
		return nil, probs
	}

	probs = checkUnknown(obj, addAPIUserProps)

	username, keyProbs := checkCredential(obj, "username", msgBadUsername, zmb.ValidUsername)
	probs = append(probs, keyProbs...)

	apiKey, keyProbs := checkCredential(obj, "api_key", msgBadAPIKey, zmb.ValidAPIKey)
	probs = append(probs, keyProbs...)

	if len(probs) > 0 {
		return nil, probs
	}

	return &zmb.User{
		Username: username,
		APIKey:   apiKey,
	}, nil
}

// checkCredential validates one required string property against the given
// shape predicate.
func checkCredential(
	obj map[string]any,
	prop string,
	badMsg string,
	valid func(s string) (ok bool),
) (s string, probs []*Problem) {
	val, ok := obj[prop]
	if !ok {
		return "", []*Problem{{Path: "/" + prop, Message: msgMissing}}
	}

	s, isStr := toString(val)
	if !isStr || !valid(s) {
		return "", []*Problem{{Path: "/" + prop, Message: badMsg}}
	}

	return s, nil
}

// addBatchJobProps is the strict property set of add_batch_job.
var addBatchJobProps = []string{"username", "api_key", "domains", "test_params"}

// batchTestParamsProps is the strict property set of the per-batch
// test_params object.  It is the start_domain_test schema minus the domain
// and scheduling properties handled at the batch level.
var batchTestParamsProps = []string{
	"ipv4",
	"ipv6",
	"nameservers",
	"ds_info",
	"profile",
	"client_id",
	"client_version",
	"priority",
	"queue",
}

// BatchRequest is the validated form of the add_batch_job params.
type BatchRequest struct {
	// Params is the normalized per-test parameter object, without a domain.
	Params *zmb.TestParams

	// Username and APIKey are the presented credentials.
	Username string
	APIKey   string

	// Domains are the normalized domains to create tests for.
	Domains []string

	// Priority and Queue apply to every created test.
	Priority int
	Queue    int
}

// AddBatchJob validates the add_batch_job params.
func (v *Validator) AddBatchJob(raw json.RawMessage) (req *BatchRequest, probs []*Problem) {
	obj, probs := decodeObject(raw)
	if probs != nil {
		return nil, probs
	}

	probs = checkUnknown(obj, addBatchJobProps)

	req = &BatchRequest{
		Params:   &zmb.TestParams{Profile: profiles.Default},
		Priority: DefaultBatchPriority,
		Queue:    DefaultQueue,
	}

	var credProbs []*Problem
	req.Username, credProbs = checkCredential(obj, "username", msgBadUsername, zmb.ValidUsername)
	probs = append(probs, credProbs...)

	req.APIKey, credProbs = checkCredential(obj, "api_key", msgBadAPIKey, zmb.ValidAPIKey)
	probs = append(probs, credProbs...)

	val, ok := obj["domains"]
	if !ok {
		probs = append(probs, &Problem{Path: "/domains", Message: msgMissing})
	} else if list, isList := val.([]any); !isList || len(list) == 0 {
		probs = append(probs, &Problem{Path: "/domains", Message: msgNotAList})
	} else {
		for i, elem := range list {
			path := fmt.Sprintf("/domains/%d", i)

			s, isStr := toString(elem)
			if !isStr {
				probs = append(probs, &Problem{Path: path, Message: msgNotAString})

				continue
			}

			norm, msg := checkDomain(s)
			if msg != "" {
				probs = append(probs, &Problem{Path: path, Message: msg})

				continue
			}

			req.Domains = append(req.Domains, fingerprint.NormalizeDomain(norm))
		}
	}

	if val, ok = obj["test_params"]; ok && val != nil {
		tpObj, isObj := val.(map[string]any)
		if !isObj {
			probs = append(probs, &Problem{Path: "/test_params", Message: msgNotAnObjectElem})
		} else {
			tpProbs := checkUnknownAt(tpObj, batchTestParamsProps, "/test_params")
			tpProbs = append(tpProbs, v.fillTestParams(tpObj, req.Params, false)...)

			if pVal, hasPrio := tpObj["priority"]; hasPrio {
				n, isInt := toInt(pVal)
				if !isInt {
					tpProbs = append(tpProbs, &Problem{
						Path:    "/test_params/priority",
						Message: msgBadPriority,
					})
				} else {
					req.Priority = int(n)
				}
			}

			if qVal, hasQueue := tpObj["queue"]; hasQueue {
				n, isInt := toInt(qVal)
				if !isInt || n < 0 {
					tpProbs = append(tpProbs, &Problem{
						Path:    "/test_params/queue",
						Message: msgBadQueue,
					})
				} else {
					req.Queue = int(n)
				}
			}

			// The per-test problems are already prefixed for the nested
			// lists; prefix the scalar ones produced by fillTestParams.
			for _, p := range tpProbs {
				if !strings.HasPrefix(p.Path, "/test_params") {
					p.Path = "/test_params" + p.Path
				}
			}

			probs = append(probs, tpProbs...)
		}
	}

	if len(probs) > 0 {
		return nil, probs
	}

	fingerprint.Normalize(req.Params)

	return req, nil
}

// getBatchJobResultProps is the strict property set of get_batch_job_result.
var getBatchJobResultProps = []string{"batch_id"}

// GetBatchJobResult validates the get_batch_job_result params.
func (v *Validator) GetBatchJobResult(raw json.RawMessage) (batchID uint64, probs []*Problem) {
	obj, probs := decodeObject(raw)
	if probs != nil {
		return 0, probs
	}

	probs = checkUnknown(obj, getBatchJobResultProps)

	val, ok := obj["batch_id"]
	if !ok {
		probs = append(probs, &Problem{Path: "/batch_id", Message: msgMissing})
	} else if n, isInt := toInt(val); !isInt || n <= 0 {
		probs = append(probs, &Problem{Path: "/batch_id", Message: msgBadBatchID})
	} else {
		batchID = uint64(n)
	}

	if len(probs) > 0 {
		return 0, probs
	}

	return batchID, nil
}

// getHostByNameProps is the strict property set of get_host_by_name.
var getHostByNameProps = []string{"hostname"}

// GetHostByName validates the get_host_by_name params.
func (v *Validator) GetHostByName(raw json.RawMessage) (hostname string, probs []*Problem) {
	obj, probs := decodeObject(raw)
	if probs != nil {
		return "", probs
	}

	probs = checkUnknown(obj, getHostByNameProps)

	val, ok := obj["hostname"]
	if !ok {
		probs = append(probs, &Problem{Path: "/hostname", Message: msgMissing})
	} else if s, isStr := toString(val); !isStr {
		probs = append(probs, &Problem{Path: "/hostname", Message: msgBadHostname})
	} else if norm, msg := checkDomain(s); msg != "" {
		probs = append(probs, &Problem{Path: "/hostname", Message: msg})
	} else {
		hostname = fingerprint.NormalizeDomain(norm)
	}

	if len(probs) > 0 {
		return "", probs
	}

	return hostname, nil
}

// getDataFromParentZoneProps is the strict property set of
// get_data_from_parent_zone.
var getDataFromParentZoneProps = []string{"domain", "language"}

// GetDataFromParentZone validates the get_data_from_parent_zone params.
func (v *Validator) GetDataFromParentZone(
	raw json.RawMessage,
) (domain string, probs []*Problem) {
	obj, probs := decodeObject(raw)
	if probs != nil {
		return "", probs
	}

	lang, langProbs := v.checkLanguage(obj, false)
	defer func() { v.translateAll(probs, lang) }()

	probs = append(probs, checkUnknown(obj, getDataFromParentZoneProps)...)
	probs = append(probs, langProbs...)

	val, ok := obj["domain"]
	if !ok {
		probs = append(probs, &Problem{Path: "/domain", Message: msgMissing})
	} else if s, isStr := toString(val); !isStr {
		probs = append(probs, &Problem{Path: "/domain", Message: msgNotAString})
	} else if norm, msg := checkDomain(s); msg != "" {
		probs = append(probs, &Problem{Path: "/domain", Message: msg})
	} else {
		domain = fingerprint.NormalizeDomain(norm)
	}

	if len(probs) > 0 {
		return "", probs
	}

	return domain, nil
}
