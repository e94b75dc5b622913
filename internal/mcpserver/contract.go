package mcpserver

// RecipeFormatContract describes the Cooklang recipe format that LLM
// consumers should follow when creating or updating recipes.
const RecipeFormatContract = `# Cookshelf Recipe Format

Recipes are stored as Cooklang text, one recipe per ` + "`" + `.cook` + "`" + ` file.

## Metadata

Metadata comes either from a YAML front matter block at the very top of the
file or from legacy ` + "`" + `>> key: value` + "`" + ` lines. Front matter wins when both set a key.

` + "```" + `
---
title: Tomato soup        # optional: defaults to the file name
servings: 4               # optional: "serves" is accepted too; defaults to 1
tags: [soup, vegetarian]  # optional: YAML list or comma-separated string
---
` + "```" + `

` + "```" + `
>> title: Tomato soup
>> servings: 4
>> tags: soup, vegetarian
` + "```" + `

## Body

- Ingredients: ` + "`" + `@salt` + "`" + `, ` + "`" + `@olive oil{2%tbsp}` + "`" + `
- Cookware: ` + "`" + `#pot` + "`" + `, ` + "`" + `#baking sheet{}` + "`" + `
- Timers: ` + "`" + `~{10%minutes}` + "`" + `
- One step per paragraph.

## Paths

- A recipe path is slash-separated: ` + "`" + `lunch/Tomato soup` + "`" + `. Do not include ` + "`" + `.cook` + "`" + `.
- Segments may contain letters, digits, spaces and ` + "`" + `_ + % . ( ) -` + "`" + `.
- ` + "`" + `create_recipe` + "`" + ` never overwrites: if the name is taken it stores the recipe
  as ` + "`" + `Name (1)` + "`" + `, ` + "`" + `Name (2)` + "`" + `, ... and reports the name it used.

## Example

` + "```" + `
---
title: Tomato soup
servings: 2
tags: [soup]
---
Dice @onion{1} and sweat in @olive oil{1%tbsp} in a #pot for ~{5%minutes}.

Add @canned tomatoes{400%g} and simmer for ~{20%minutes}.
` + "```" + `
`
