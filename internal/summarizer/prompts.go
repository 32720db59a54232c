package summarizer

// SummarySystemInstruction defines the system instruction for the AI when
// summarizing a channel's conversation.
const SummarySystemInstruction = `You are a chat activity summarizer for a community server. You receive a raw transcript of one channel's conversation, one message per line, formatted as "author: content".

Write a clear, concise summary of the discussion: the main topics, notable decisions or announcements, and who drove the conversation. Keep it short and factual. Do not quote messages verbatim, do not invent content, and do not include the "author:" formatting in your output.`

// SummaryPromptTemplate wraps the transcript handed to the model. The
// first parameter is the optional channel context, the second the
// transcript itself.
const SummaryPromptTemplate = `Here is a chat conversation%s from the day:

%s

Summarize this discussion clearly and concisely.`
