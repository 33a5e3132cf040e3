// Package lifecycle hosts the offline cache controller the way a browser
// hosts a service worker. It owns the three lifecycle signals (install,
// activate, fetch), accepts exactly one handler per signal, runs install and
// activate as awaited tasks, and tracks the resulting state. Fetches are only
// routed to the registered handler once activation succeeded; before that, or
// after a failed install, requests go straight to the pass-through fetcher.
package lifecycle
