package kobo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"infoportal/internal/errs"
)

// FormInfo is the subset of the remote form resource mirrored locally
// during reconciliation.
type FormInfo struct {
	Name             string
	DeploymentStatus string
	EnketoURL        string
}

type rawFormInfo struct {
	Name             string `json:"name"`
	DeploymentStatus string `json:"deployment_status"`
	DeploymentLinks  struct {
		OfflineURL string `json:"offline_url"`
	} `json:"deployment__links"`
}

func (c *Client) GetForm(ctx context.Context, formID string) (FormInfo, error) {
	url := fmt.Sprintf("%s/api/v2/assets/%s/?format=json", c.baseURL, formID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FormInfo{}, errs.Wrap(err, "build form request")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return FormInfo{}, errs.Wrapf(err, "fetch form %s", formID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FormInfo{}, c.statusError("fetch form", formID, resp)
	}

	var raw rawFormInfo
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return FormInfo{}, errs.Wrapf(err, "decode form %s", formID)
	}
	return FormInfo{
		Name:             raw.Name,
		DeploymentStatus: raw.DeploymentStatus,
		EnketoURL:        raw.DeploymentLinks.OfflineURL,
	}, nil
}
