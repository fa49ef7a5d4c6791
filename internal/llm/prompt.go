// internal/llm/prompt.go
package llm

import (
	"fmt"
	"strings"

	"mcp-food-log/internal/models"
)

func categoryList() string {
	cats := models.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// systemPrompt is the output contract shared by every modality.
func systemPrompt() string {
	return fmt.Sprintf(`You are a nutrition expert estimating the contents of a meal.

Identify each food item. For each item provide:
- The estimated portion as a number with a unit of "g" or "oz" only. Convert household
  measures (eggs, slices, cups, pieces, tablespoons) to grams or ounces before answering.
- A size description using common household objects (e.g. palm-sized, golf ball).
- The typical serving this size corresponds to.
- Calories and protein (grams) for the estimated portion.

For the whole meal provide a concise summary of at most %d characters and the
categories present, chosen only from: %s.

IMPORTANT: Always respond with valid JSON in this exact format:
{
  "foods": [
    {
      "name": "specific food item name",
      "estimatedPortion": {"count": [number], "unit": "g|oz"},
      "sizeDescription": "household size comparison",
      "typicalServing": "reference serving",
      "calories": [number],
      "protein": [number]
    }
  ],
  "mealSummary": "summary",
  "mealCategories": ["category"]
}`, models.MaxMealSummaryLength, categoryList())
}

const imageInstruction = `Analyze this food image and identify each food item and its portion.`

func textInstruction(description string) string {
	return fmt.Sprintf(`Analyze this meal description and identify each food item mentioned: %q`, description)
}
