package document

import "github.com/cloudwego/eino/schema"

// Theme is the document kept by the theme agent. Colors are #RRGGBB.
type Theme struct {
	PrimaryColor    string `json:"primary_color"`
	SecondaryColor  string `json:"secondary_color"`
	BackgroundColor string `json:"background_color"`
	CardBackground  string `json:"card_background"`
	TextColor       string `json:"text_color"`
	AccentColor     string `json:"accent_color"`
	FontFamily      string `json:"font_family"`
	Mood            string `json:"mood"`
	Description     string `json:"description"`
}

// ThemeColorFields lists the members that must hold hex colors.
var ThemeColorFields = []string{
	"primary_color", "secondary_color", "background_color",
	"card_background", "text_color", "accent_color",
}

func DefaultTheme() Theme {
	return Theme{
		PrimaryColor:    "#667eea",
		SecondaryColor:  "#764ba2",
		BackgroundColor: "#f5f5f5",
		CardBackground:  "#ffffff",
		TextColor:       "#333333",
		AccentColor:     "#f97316",
		FontFamily:      "Inter",
		Mood:            "Corporate",
		Description:     "Clean corporate palette with purple gradients and an orange accent.",
	}
}

func (t *Theme) fillDefaults() {
	d := DefaultTheme()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&t.PrimaryColor, d.PrimaryColor)
	fill(&t.SecondaryColor, d.SecondaryColor)
	fill(&t.BackgroundColor, d.BackgroundColor)
	fill(&t.CardBackground, d.CardBackground)
	fill(&t.TextColor, d.TextColor)
	fill(&t.AccentColor, d.AccentColor)
	fill(&t.FontFamily, d.FontFamily)
	fill(&t.Mood, d.Mood)
	fill(&t.Description, d.Description)
}

func colorParam(desc string) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.String, Desc: desc + " as #RRGGBB", Required: true}
}

// ThemeKind is served on /theme_state.
var ThemeKind = Kind{
	Name: "theme",
	Key:  "theme",
	Instruction: `You are a UI design assistant that personalizes the application theme.
When the user asks for a new look, call update_theme with every field of the theme. Colors must be hex values in the form #RRGGBB.
The current theme below is the user's latest copy; start from it and change only what the request implies.
Reply briefly in plain text describing the new theme.

Current theme:
%s`,
	Tool: &schema.ToolInfo{
		Name: "update_theme",
		Desc: "Replace the current UI theme. Always send every field.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"primary_color":    colorParam("Primary brand color"),
			"secondary_color":  colorParam("Secondary color used in gradients"),
			"background_color": colorParam("Page background color"),
			"card_background":  colorParam("Card background color"),
			"text_color":       colorParam("Body text color"),
			"accent_color":     colorParam("Accent color for highlights"),
			"font_family": {
				Type: schema.String,
				Desc: "CSS font family name",
			},
			"mood": {
				Type: schema.String,
				Desc: "Short name for the theme mood",
			},
			"description": {
				Type: schema.String,
				Desc: "One sentence describing the theme",
			},
		}),
	},
	defaults:  func() any { return DefaultTheme() },
	normalize: decodeInto[Theme](DefaultTheme),
}
