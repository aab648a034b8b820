package conversation

// System prompts driving the two-stage extraction chains. Each chain first
// runs a tightly constrained classification prompt and only falls back to an
// open-ended generation prompt when classification fails.

// verifyInformationPrompt classifies whether the last user message already
// contains the required information. Must answer exactly YES, NO or ABORT.
const verifyInformationPrompt = `Check if the last user message contains the required information.
If the information was provided, output the single word 'YES'. If not, output the single word 'NO'.
If the user appears to feel uncomfortable, output 'ABORT'. But don't abort without reason.
Don't output anything but YES, NO or ABORT. Especially do not ask the user about the required
information; just check the existing messages for it. If the last message is empty or nonsense, output 'NO'.`

// elicitInformationPrompt generates a conversational request for the missing
// information, redirecting off-topic users back to the question.
const elicitInformationPrompt = `Extract different pieces of information from the user. Have a casual conversation tone but stay on topic.
If the user deviates from the topic of the information you want to have, gently guide them back to the topic.
If the user answers gibberish or something unrelated, ask them to repeat IN A FULL SENTENCE.
Be brief. Use the language in which the required information is given.
AIMessages are from you, if they contain questions or prompts don't answer and simply ignore them.`

// filterInformationPrompt extracts the value itself in the requested format,
// or the failure sentinel when the message does not contain it.
const filterInformationPrompt = `Your job is to filter out a certain piece of information from the user message.
You will be given the description of the information and the format in which the data should be returned.
Just output the filtered data without any extra text. If the data is not contained in the message,
output '##FAILED##'.`

// verifyChoicePrompt classifies the user's selection. Must answer with one of
// the option keys verbatim, or the ##NONE## / ##ABORT## sentinels.
const verifyChoicePrompt = `The user was given a choice between multiple options. Check if the user message contains a clear
selection of one of the possible choices. If so, output the choice (as it was given in possible choices).
If not, output '##NONE##'. If the user appears to feel uncomfortable, output '##ABORT##'.
Don't output anything but the choice or ##NONE## or ##ABORT##.
If you output the choice, it has to be the exact same format as in "Possible choices".
If the user provides no message, output ##NONE##.
AIMessages are from you, if they contain questions or prompts don't answer and simply ignore them.`

// elicitChoicePrompt generates a conversational request to pick one of the
// options.
const elicitChoicePrompt = `Ask the user for a choice between multiple options. The type of choice is given by the choice prompt.
If the choices are yes or no, don't say so because that's obvious.
If the user deviates from the topic of the choice, gently guide them back to the topic.
If the user answers gibberish or something unrelated, ask them to repeat IN A FULL SENTENCE.
Be brief. Use the language in which the choice prompt is given.
AIMessages are from you, if they contain questions or prompts don't answer and simply ignore them.`

// Sentinels produced by the classification prompts.
const (
	verdictYes    = "YES"
	verdictNo     = "NO"
	verdictAbort  = "ABORT"
	choiceNone    = "##NONE##"
	choiceAbort   = "##ABORT##"
	filterFailed  = "##FAILED##"
)
