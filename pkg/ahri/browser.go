package ahri

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// browserClient drives the directory with a headless browser. The site is a
// form-driven SPA with no public API; searches fill the form, submit, and
// either scrape the details page (reference lookups) or download the result
// workbook (model searches).
type browserClient struct {
	baseURL     string
	cacheDir    string
	downloadDir string
	headless    bool
	timeout     time.Duration
}

// NewClient creates a browser-backed directory client.
func NewClient(opts ...Option) (Client, error) {
	c := &browserClient{
		baseURL:     "https://ahridirectory.org",
		cacheDir:    "./cache/ahri",
		downloadDir: "./cache/ahri/downloads",
		headless:    true,
		timeout:     3 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, dir := range []string{c.cacheDir, c.downloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "ahri: create dir %s", dir)
		}
	}
	return c, nil
}

// SearchByRef scrapes the certificate details page for a reference number.
// Scraped certificates are cached as JSON keyed by the reference itself.
func (c *browserClient) SearchByRef(ctx context.Context, ahriNumber string) (*Certificate, error) {
	cachePath := filepath.Join(c.cacheDir, "ahri_ref_"+ahriNumber+".json")
	if cert, ok := c.loadCachedCertificate(cachePath); ok {
		zap.L().Info("certificate cache hit", zap.String("ahri_ref", ahriNumber))
		return cert, nil
	}

	cert, err := c.scrapeDetails(ctx, ahriNumber)
	if err != nil {
		return nil, err
	}

	if data, merr := json.MarshalIndent(cert, "", "  "); merr == nil {
		if werr := os.WriteFile(cachePath, data, 0o644); werr != nil {
			zap.L().Warn("certificate cache write failed", zap.String("path", cachePath), zap.Error(werr))
		}
	}
	return cert, nil
}

// SearchByModels runs the program-scoped advanced search with both models
// and downloads the result workbook. The furnace model is deliberately not
// part of the form; it over-constrains the search.
func (c *browserClient) SearchByModels(ctx context.Context, outdoorModel, indoorModel, systemType string) (string, error) {
	program, ok := ProgramFor(systemType)
	if !ok {
		return "", eris.Errorf("ahri: unknown system type %q", systemType)
	}

	sig := SearchSignature(outdoorModel, indoorModel, systemType)
	cachePath := filepath.Join(c.cacheDir, "ahri_combo_"+sig+".xlsx")
	if fileExists(cachePath) {
		zap.L().Info("search cache hit",
			zap.String("outdoor_model", outdoorModel),
			zap.String("indoor_model", indoorModel),
		)
		return cachePath, nil
	}

	zap.L().Info("directory search",
		zap.String("program", program.Name),
		zap.String("outdoor_model", outdoorModel),
		zap.String("indoor_model", indoorModel),
	)

	searchURL := fmt.Sprintf("%s/search/%s?searchMode=program", c.baseURL, program.ID)
	fillForm := chromedp.Tasks{
		chromedp.Navigate(searchURL),
		chromedp.WaitVisible(`//input`, chromedp.BySearch),
		chromedp.SendKeys(`//label[contains(., "Outdoor Unit Model Number")]/following::input[1]`, outdoorModel, chromedp.BySearch),
		chromedp.SendKeys(`//label[contains(., "Indoor Unit Model Number")]/following::input[1]`, indoorModel, chromedp.BySearch),
	}
	return c.downloadResults(ctx, cachePath, fillForm)
}

// SearchByOutdoorModel runs the plain model-number search. Result sets can
// be large; this is the fallback when the combined search finds nothing.
func (c *browserClient) SearchByOutdoorModel(ctx context.Context, outdoorModel string) (string, error) {
	sig := SearchSignature(outdoorModel)
	cachePath := filepath.Join(c.cacheDir, "ahri_model_"+sig+".xlsx")
	if fileExists(cachePath) {
		zap.L().Info("search cache hit", zap.String("outdoor_model", outdoorModel))
		return cachePath, nil
	}

	zap.L().Info("directory model search", zap.String("outdoor_model", outdoorModel))

	fillForm := chromedp.Tasks{
		chromedp.Navigate(c.baseURL),
		chromedp.WaitVisible(`//input`, chromedp.BySearch),
		chromedp.Click(`//label[contains(., "Model #")]`, chromedp.BySearch),
		chromedp.SendKeys(`input[type="text"]`, outdoorModel, chromedp.ByQuery),
	}
	return c.downloadResults(ctx, cachePath, fillForm)
}

// downloadResults submits a prepared search form, waits for results, walks
// the download modal, and moves the finished workbook to cachePath.
func (c *browserClient) downloadResults(parent context.Context, cachePath string, fillForm chromedp.Tasks) (string, error) {
	ctx, cancel := c.newSession(parent)
	defer cancel()

	done := make(chan string, 1)
	chromedp.ListenTarget(ctx, func(ev any) {
		if progress, ok := ev.(*browser.EventDownloadProgress); ok && progress.State == browser.DownloadProgressStateCompleted {
			select {
			case done <- progress.GUID:
			default:
			}
		}
	})

	err := chromedp.Run(ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(c.downloadDir).
			WithEventsEnabled(true),
		fillForm,
		chromedp.Click(`//button[contains(., "Search")]`, chromedp.BySearch),
		// Reference numbers are 9 digits; one showing up means results landed.
		chromedp.WaitVisible(`//*[contains(text(), "Download Product List")]`, chromedp.BySearch),
		chromedp.Click(`//*[contains(text(), "Download Product List")]`, chromedp.BySearch),
		chromedp.WaitVisible(`//button[contains(., "Download Excel File")]`, chromedp.BySearch),
		chromedp.Click(`//button[contains(., "Download Excel File")]`, chromedp.BySearch),
	)
	if err != nil {
		return "", eris.Wrap(err, "ahri: search flow")
	}

	select {
	case guid := <-done:
		downloaded := filepath.Join(c.downloadDir, guid)
		if err := os.Rename(downloaded, cachePath); err != nil {
			return "", eris.Wrapf(err, "ahri: move download to %s", cachePath)
		}
		zap.L().Info("results downloaded", zap.String("path", cachePath))
		return cachePath, nil
	case <-ctx.Done():
		return "", eris.Wrap(ctx.Err(), "ahri: download wait")
	}
}

// scrapeDetails opens the reference-number search, follows the certificate
// tab it spawns, and reads the label/value tables off the details page.
func (c *browserClient) scrapeDetails(parent context.Context, ahriNumber string) (*Certificate, error) {
	ctx, cancel := c.newSession(parent)
	defer cancel()

	certTab := chromedp.WaitNewTarget(ctx, func(info *target.Info) bool {
		return info.OpenerID != ""
	})

	err := chromedp.Run(ctx,
		chromedp.Navigate(c.baseURL),
		chromedp.WaitVisible(`//input`, chromedp.BySearch),
		chromedp.Click(`//label[contains(., "AHRI Reference")]`, chromedp.BySearch),
		chromedp.SendKeys(`input[type="text"]`, ahriNumber, chromedp.ByQuery),
		chromedp.Click(`//button[contains(., "Search")]`, chromedp.BySearch),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ahri: reference search %s", ahriNumber)
	}

	var tabID target.ID
	select {
	case tabID = <-certTab:
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "ahri: no certificate tab for %s", ahriNumber)
	}

	tabCtx, tabCancel := chromedp.NewContext(ctx, chromedp.WithTargetID(tabID))
	defer tabCancel()

	var bodyText string
	var pairs [][2]string
	err = chromedp.Run(tabCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Text("body", &bodyText, chromedp.ByQuery),
		chromedp.Evaluate(`Array.from(document.querySelectorAll("table tbody tr")).map(tr => {
			const cells = tr.querySelectorAll("td");
			return cells.length >= 2 ? [cells[0].innerText.trim(), cells[1].innerText.trim()] : null;
		}).filter(Boolean)`, &pairs),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ahri: read certificate %s", ahriNumber)
	}

	if strings.Contains(bodyText, "404") || strings.Contains(strings.ToLower(bodyText), "not found") ||
		strings.Contains(bodyText, "Invalid Reference Number") {
		return nil, eris.Errorf("ahri: certificate %s not found", ahriNumber)
	}

	cert := certificateFromDetails(ahriNumber, pairs)
	zap.L().Info("certificate scraped",
		zap.String("ahri_ref", ahriNumber),
		zap.Int("fields", len(pairs)),
	)
	return cert, nil
}

// certificateFromDetails classifies the details-page label/value rows into
// certificate fields, mirroring the column vocabulary of the downloadable
// workbooks.
func certificateFromDetails(ahriNumber string, pairs [][2]string) *Certificate {
	cert := &Certificate{AHRIRef: ahriNumber}

	for _, pair := range pairs {
		label, value := pair[0], pair[1]
		if value == "" {
			continue
		}
		switch {
		case strings.Contains(label, "SEER2") && strings.Contains(label, "Appendix M1"):
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				cert.SEER2 = &f
			}
		case strings.Contains(label, "EER2") && strings.Contains(label, "95F") && strings.Contains(label, "Appendix M1"):
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				cert.EER2 = &f
			}
		case strings.Contains(label, "HSPF2") && strings.Contains(label, "Region IV") && strings.Contains(label, "Appendix M1"):
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				cert.HSPF2 = &f
			}
		case strings.Contains(label, "Cooling Capacity") && strings.Contains(label, "95F") && strings.Contains(label, "btuh"):
			if n, err := strconv.ParseInt(strings.ReplaceAll(value, ",", ""), 10, 64); err == nil {
				cert.Capacity = &n
				t := math.Round(float64(n)/12000*10) / 10
				cert.Tonnage = &t
			}
		case strings.Contains(label, "Indoor Unit Model Number") && !strings.Contains(label, "Brand"):
			cert.IndoorModel = value
		case strings.Contains(label, "Outdoor Unit Model Number") && !strings.Contains(label, "Brand"):
			cert.OutdoorModel = value
		case strings.Contains(label, "Furnace Model Number"):
			cert.FurnaceModel = value
		}
	}
	return cert
}

// newSession builds a fresh browser context with the session timeout
// applied. Automation fingerprints are suppressed; the site blocks obvious
// bots.
func (c *browserClient) newSession(parent context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		chromedp.WindowSize(1920, 1080),
	)

	timeoutCtx, timeoutCancel := context.WithTimeout(parent, c.timeout)
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cancel := func() {
		browserCancel()
		allocCancel()
		timeoutCancel()
	}
	return browserCtx, cancel
}

func (c *browserClient) loadCachedCertificate(path string) (*Certificate, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var cert Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		zap.L().Warn("corrupt certificate cache", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return &cert, true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
