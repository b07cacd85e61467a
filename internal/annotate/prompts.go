package annotate

import "bulletin/internal/core"

// Prompt is the fixed instruction set used to judge records of one source.
type Prompt struct {
	Instructions string
	// Structured requests an include decision alongside the summary.
	Structured bool
}

const itemInstructions = `You curate a daily AI research bulletin for practitioners.
Read the item below and decide whether it belongs in today's bulletin. Include
substantive technical or strategic content about machine learning, AI safety,
alignment, or notable model releases. Exclude announcements, meta posts,
fiction, and low-signal opinion pieces.

Respond with JSON only: {"include": true|false, "summary": "<two or three plain sentences>"}.
The summary must describe the item even when include is false.`

const (
	lessWrongNotes = `The item is a LessWrong frontpage post. Prefer posts with a concrete argument,
result, or proposal over community news.`

	hfPapersNotes = `The item is the abstract of a paper featured on Hugging Face daily papers.
Include papers with a clear empirical result or a new method; summarize the
contribution, not the motivation.`

	huggingFaceInstructions = `Summarize the Hugging Face model card below in two or three plain
sentences for an AI practitioner: what the model is, what it is for, and any
notable size, license, or benchmark detail. Reply with the summary text only.`

	civitaiInstructions = `Summarize the Civitai model description below in one or two plain
sentences: the base model, the style or subject it targets, and anything that
makes it stand out. Reply with the summary text only.`

	genericRankingInstructions = "Summarize the model description below in two or three plain sentences. Reply with the summary text only."
)

// DefaultPrompts returns the instruction set for every built-in source.
func DefaultPrompts() map[string]Prompt {
	return map[string]Prompt{
		core.SourceLessWrong:   itemPrompt(lessWrongNotes),
		core.SourceHFPapers:    itemPrompt(hfPapersNotes),
		core.SourceHuggingFace: summaryPrompt(huggingFaceInstructions),
		core.SourceCivitai:     summaryPrompt(civitaiInstructions),
	}
}

func itemPrompt(extra string) Prompt {
	return Prompt{Instructions: itemInstructions + "\n\n" + extra, Structured: true}
}

func summaryPrompt(instructions string) Prompt {
	return Prompt{Instructions: instructions}
}

// promptFor falls back to a generic prompt for sources without a dedicated one.
func promptFor(prompts map[string]Prompt, source string, kind core.Kind) Prompt {
	if p, ok := prompts[source]; ok {
		return p
	}
	if kind == core.KindRanking {
		return summaryPrompt(genericRankingInstructions)
	}
	return Prompt{Instructions: itemInstructions, Structured: true}
}
