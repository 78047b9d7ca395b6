package fetcher

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthScript hides the usual headless Chrome giveaways from page
// scripts. It runs before any script of the page itself.
const stealthScript = `(() => {
  const define = (obj, prop, value) => {
    try { Object.defineProperty(obj, prop, { get: () => value, configurable: true }); } catch (e) {}
  };

  define(navigator, 'webdriver', undefined);
  define(navigator, 'languages', Object.freeze(['en-US', 'en']));
  if (!navigator.hardwareConcurrency) define(navigator, 'hardwareConcurrency', 4);
  if (!navigator.deviceMemory) define(navigator, 'deviceMemory', 8);

  const fakePlugins = ['Chrome PDF Plugin', 'Chrome PDF Viewer', 'Native Client'].map((name) => ({ name, description: '', filename: name.toLowerCase().replace(/ /g, '-') }));
  fakePlugins.item = (i) => fakePlugins[i] || null;
  fakePlugins.namedItem = (n) => fakePlugins.find((p) => p.name === n) || null;
  fakePlugins.refresh = () => {};
  define(navigator, 'plugins', fakePlugins);

  window.chrome = window.chrome || {};
  window.chrome.runtime = window.chrome.runtime || { connect() {}, sendMessage() {} };

  if (window.Permissions && Permissions.prototype.query) {
    const query = Permissions.prototype.query;
    Permissions.prototype.query = function (params) {
      if (params && params.name === 'notifications') {
        return Promise.resolve({ state: Notification.permission });
      }
      return query.call(this, params);
    };
  }

  const patchWebGL = (proto) => {
    if (!proto) return;
    const getParameter = proto.getParameter;
    proto.getParameter = function (param) {
      if (param === 37445) return 'Intel Inc.';
      if (param === 37446) return 'Intel Iris OpenGL Engine';
      return getParameter.call(this, param);
    };
  };
  patchWebGL(window.WebGLRenderingContext && WebGLRenderingContext.prototype);
  patchWebGL(window.WebGL2RenderingContext && WebGL2RenderingContext.prototype);
})();`

func browserAllocatorOptions(stealth bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	if !stealth {
		return opts
	}
	return append(opts,
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("lang", "en-US,en"),
		chromedp.Flag("accept-lang", "en-US,en;q=0.9"),
	)
}

func injectStealthScript() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})
}
