package document

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"
)

// Skill levels accepted for a recipe.
const (
	SkillBeginner     = "Beginner"
	SkillIntermediate = "Intermediate"
	SkillAdvanced     = "Advanced"
)

const defaultIngredientIcon = "🍽️"

type Ingredient struct {
	Icon     string `json:"icon"`
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit"`
}

// Recipe is the document kept by the recipe agent.
type Recipe struct {
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	SkillLevel         string       `json:"skill_level"`
	SpecialPreferences []string     `json:"special_preferences"`
	PrepTime           string       `json:"prep_time"`
	CookTime           string       `json:"cook_time"`
	Servings           int          `json:"servings"`
	Ingredients        []Ingredient `json:"ingredients"`
	Instructions       []string     `json:"instructions"`
}

// UnmarshalJSON accepts a numeric quantity as well as a string.
func (i *Ingredient) UnmarshalJSON(data []byte) error {
	type plain Ingredient
	aux := struct {
		*plain
		Quantity json.RawMessage `json:"quantity"`
	}{plain: (*plain)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Quantity) > 0 {
		i.Quantity = looseString(aux.Quantity, "")
	}
	return nil
}

// UnmarshalJSON accepts numbers for the time fields and a numeric string
// for servings. Values of any other shape keep what the recipe already
// holds, which for a fresh recipe is the default.
func (r *Recipe) UnmarshalJSON(data []byte) error {
	type plain Recipe
	aux := struct {
		*plain
		PrepTime json.RawMessage `json:"prep_time"`
		CookTime json.RawMessage `json:"cook_time"`
		Servings json.RawMessage `json:"servings"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.PrepTime) > 0 {
		r.PrepTime = looseString(aux.PrepTime, r.PrepTime)
	}
	if len(aux.CookTime) > 0 {
		r.CookTime = looseString(aux.CookTime, r.CookTime)
	}
	if len(aux.Servings) > 0 {
		r.Servings = looseInt(aux.Servings, r.Servings)
	}
	return nil
}

// looseString reads a JSON string or number; anything else yields fallback.
func looseString(raw json.RawMessage, fallback string) string {
	v := gjson.ParseBytes(raw)
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return v.Raw
	}
	return fallback
}

// looseInt reads a JSON number or a numeric string; anything else yields
// fallback.
func looseInt(raw json.RawMessage, fallback int) int {
	v := gjson.ParseBytes(raw)
	switch v.Type {
	case gjson.Number:
		return int(v.Float())
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
	}
	return fallback
}

func DefaultRecipe() Recipe {
	return Recipe{
		SkillLevel:         SkillIntermediate,
		SpecialPreferences: []string{},
		Servings:           4,
		Ingredients:        []Ingredient{},
		Instructions:       []string{},
	}
}

func (r *Recipe) fillDefaults() {
	if r.SpecialPreferences == nil {
		r.SpecialPreferences = []string{}
	}
	if r.Ingredients == nil {
		r.Ingredients = []Ingredient{}
	}
	if r.Instructions == nil {
		r.Instructions = []string{}
	}
	if r.Servings <= 0 {
		r.Servings = 4
	}
	if r.SkillLevel == "" {
		r.SkillLevel = SkillIntermediate
	}
	for i := range r.Ingredients {
		if r.Ingredients[i].Icon == "" {
			r.Ingredients[i].Icon = defaultIngredientIcon
		}
	}
}

// RecipeKind is served on /shared_state.
var RecipeKind = Kind{
	Name: "recipe",
	Key:  "recipe",
	Instruction: `You are a helpful cooking assistant that writes and edits recipes.
Whenever the recipe changes, call update_recipe with the complete recipe. Never send a partial recipe.
The current recipe below is the user's latest copy and may contain their own edits.
Keep every ingredient and instruction it contains unless the user asks to remove it, and never re-add anything missing from it.
Reply briefly in plain text describing what you changed.

Current recipe:
%s`,
	Tool: &schema.ToolInfo{
		Name: "update_recipe",
		Desc: "Replace the current recipe. Always send the complete recipe, including every ingredient and instruction that should remain.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"title": {
				Type:     schema.String,
				Desc:     "Recipe title",
				Required: true,
			},
			"description": {
				Type: schema.String,
				Desc: "Short description of the dish",
			},
			"skill_level": {
				Type: schema.String,
				Desc: "Required cooking skill",
				Enum: []string{SkillBeginner, SkillIntermediate, SkillAdvanced},
			},
			"special_preferences": {
				Type:     schema.Array,
				Desc:     "Dietary preferences such as vegetarian or gluten free",
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
			},
			"prep_time": {
				Type: schema.String,
				Desc: "Preparation time, e.g. 15 min",
			},
			"cook_time": {
				Type: schema.String,
				Desc: "Cooking time, e.g. 30 min",
			},
			"servings": {
				Type: schema.Integer,
				Desc: "Number of servings",
			},
			"ingredients": {
				Type:     schema.Array,
				Desc:     "Full ingredient list",
				Required: true,
				ElemInfo: &schema.ParameterInfo{
					Type: schema.Object,
					SubParams: map[string]*schema.ParameterInfo{
						"icon":     {Type: schema.String, Desc: "Single emoji for the ingredient"},
						"name":     {Type: schema.String, Desc: "Ingredient name", Required: true},
						"quantity": {Type: schema.String, Desc: "Amount, e.g. 200"},
						"unit":     {Type: schema.String, Desc: "Unit, e.g. g"},
					},
				},
			},
			"instructions": {
				Type:     schema.Array,
				Desc:     "Ordered preparation steps",
				Required: true,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
			},
		}),
	},
	defaults:  func() any { return DefaultRecipe() },
	normalize: decodeInto[Recipe](DefaultRecipe),
}
