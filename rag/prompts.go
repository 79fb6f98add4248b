package rag

import (
	"fmt"
	"strings"
)

// IrrelevantSentinel is what the answer prompt asks the model to reply when the
// context does not help.
const IrrelevantSentinel = "IRRELEVANT"

const evaluateDocSystem = "You are given a question and text document. Your task is to answer the digit '1' if the text is semantically related to the question otherwise you answer the digit '0'.\nDon't narrate, don't acknowledge those rules, just answer directly the digit without anything else or any formatting."

const evaluateDocUser = "Question: '%s'\nText document:\n```\n%s\n```\n\nWhat's your one-digit answer?"

const answerOneDoc = `You are an assistant for question-answering tasks.
Use the following pieces of retrieved context to answer the question.
If the entirety of the context is irrelevant, answer simply 'IRRELEVANT' and nothing else (no special formatting).
Use three sentences maximum.
Be VERY concise and use markdown formatting for easier reading.
But DON'T interpret the question too strictly, for example instead of a question it can be an instruction like "give me all information about such and such", use common sense and don't be too strict!

Question: '%s'
Context:
'''
%s
'''
Answer:`

const combineIntermediateAnswers = "Given the following statements, you must answer a given question.\n" +
	"Ignore irrelevant statements. Don't narrate, just do what I asked.\n" +
	"Use markdown formatting, especially bullet points for enumeration etc.\n" +
	"Be VERY concise but don't omit any relevant information from the statements.\n" +
	"Answer in the same language as the question.\n" +
	"Above all: if the statements are not enough to answer the question you MUST begin your answer by: 'OPINION:' followed by your answer based on your own knowledge so that I know that the answer is coming from you!\n" +
	"But DON'T interpret the question too strictly, for example if the question makes reference to \"documents\" consider that it's what I call here \"statements\" for example.\n" +
	"Also the question can for example be an instruction like \"give me all information about such and such\", use common sense and don't be too strict!\n" +
	"\n" +
	"Question: `%s`\n" +
	"Statements:\n" +
	"```\n" +
	"%s\n" +
	"```\n" +
	"Answer:"

const summaryRules = `- Include:
	- All noteworthy information, anecdotes, facts, insights, definitions, clarifications, explanations, ideas, technical details, etc.
- Exclude:
	- Sponsors, advertisements, etc.
	- Jokes, ramblings.
	- When in doubt, keep the information in your summary.
- Format:
	- Use markdown format: that means logical indentation, bullet points, bold etc. Don't use headers.
	- Don't use complete sentence, I'm in a hurry and need bullet points.
	- Use one bullet point per information, with the use of logical indentation this makes the whole piece quick and easy to skim.
	- Use bold for important concepts (i.e. "- Mentions that **dietary supplements are healty** because ...")
	- Write in [LANGUAGE].
	- Reformulate direct quotes to be concise, but stay faithful to the tone of the author.
	- Avoid repetitions:  e.g. don't start several bullet points by 'The author thinks that', just say it once then use indentation to make it implied..`

const summarySystem = `You are Alfred, my best journalist. Your job today is to summarize in a specific way a text section I just sent you. But I'm not interested simply in high level takeaways, what I'm interested in is the thought process of the authors, their arguments etc. The summary has to be as quick and easy to read as possible while following the rules. This is very important so if you succeed, I'll tip you up to $2000![RECURSION_INSTRUCTION]

- Detailed instructions:
 '''
[RULES]
 '''
`

const recursionInstruction = "\nFor this specific job, I'm giving you back your own summary because it was too long and contained repetition. I want you to rewrite it as closely as possible while removing repetitions and fixing the logical indentation. You can rearrange the text freely but don't lose information I'm interested in. Don't forget the instructions I gave you. This is important."

func evaluateDocMessages(question, doc string) (system, user string) {
	return evaluateDocSystem, fmt.Sprintf(evaluateDocUser, question, doc)
}

func answerOneDocPrompt(question, context string) string {
	return fmt.Sprintf(answerOneDoc, question, context)
}

func combineAnswersPrompt(question string, statements []string) string {
	return fmt.Sprintf(combineIntermediateAnswers, question, strings.Join(statements, "\n"))
}

func summarySystemPrompt(language string, recursive bool) string {
	instr := ""
	if recursive {
		instr = recursionInstruction
	}
	rules := strings.ReplaceAll(summaryRules, "[LANGUAGE]", language)
	s := strings.ReplaceAll(summarySystem, "[RECURSION_INSTRUCTION]", instr)
	return strings.ReplaceAll(s, "[RULES]", rules)
}

func summaryUserPrompt(metadata, previousSummary, text string) string {
	prev := ""
	if strings.TrimSpace(previousSummary) != "" {
		prev = "\n\nFor context, here's the summary of the previous section of the text:\n'''\n" + previousSummary + "\n'''"
	}
	return metadata + prev + "\n\nText section:\n'''\n" + text + "\n'''"
}
