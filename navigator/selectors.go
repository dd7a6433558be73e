package navigator

// Selectors locate the dashboard controls the navigator drives.
type Selectors struct {
	// AccountLabel holds the name of the store currently shown.
	AccountLabel string
	// AccountTrigger opens the store picker.
	AccountTrigger string
	// StoreOption is a fmt pattern for the n-th (1-based) picker entry.
	StoreOption string
	// StoreOptionCount is how many picker positions are scanned.
	StoreOptionCount int

	// TrackingCurrent holds the tracking ID the report is filtered to.
	TrackingCurrent string
	// TrackingTriggers open the tracking ID dropdown; tried in order.
	TrackingTriggers []string
	// TrackingPopover is the open dropdown.
	TrackingPopover string
	// TrackingOptions are the clickable entries inside the popover.
	TrackingOptions string

	// DashboardMarker appears once the report summary has rendered.
	DashboardMarker string

	// DateInputs are candidate report date fields; tried in order.
	DateInputs []string
	// DateApply are candidate buttons that apply the typed date.
	DateApply []string
}

// DefaultSelectors targets the Associates Central earnings report.
func DefaultSelectors() Selectors {
	return Selectors{
		AccountLabel:     "#a-autoid-0-announce > span.a-dropdown-prompt",
		AccountTrigger:   "#a-autoid-0-announce",
		StoreOption:      "#menu-tab-store-id-picker_%d",
		StoreOptionCount: 10,

		TrackingCurrent: "#ac-dropdown-displayreport-trackingIds",
		TrackingTriggers: []string{
			`label[for="report-trackingIds"] + div.ac-widget-value a.a-popover-trigger`,
			"div.ac-widget-value.ac-widget-dropdown-value a.a-popover-trigger",
		},
		TrackingPopover: ".ac-widget-dropdown-popover",
		TrackingOptions: ".ac-widget-dropdown-popover a, .ac-widget-dropdown-popover li",

		DashboardMarker: "#ac-report-commission-commision-total",

		DateInputs: []string{
			"input.ac-widget-date-picker-input",
			".ac-widget-date-picker input",
			`input[aria-label*="date" i]`,
			`input[placeholder*="date" i]`,
			`input[type="date"]`,
		},
		DateApply: []string{
			"button.ac-widget-button-primary",
			`button[type="submit"]`,
		},
	}
}
